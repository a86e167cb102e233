package pano

import (
	"sync"
)

type job struct {
	Index int
	Err   error
}

// forEachConcurrently runs fn(0) .. fn(n-1) on a pool of goroutines,
// and waits for them all. fn must only write to state owned by its
// index. If any fail, the error from the lowest index is returned.
func forEachConcurrently(n, nWorkers int, fn func(i int) error) error {
	var wg sync.WaitGroup
	jobsChan := make(chan job, n)
	resultsChan := make(chan job, n)

	if nWorkers > n {
		nWorkers = n
	}

	// Kick off worker pool
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			for j := range jobsChan {
				j.Err = fn(j.Index)
				resultsChan <- j
			}
		}()
	}

	// Feed in jobs
	for i := 0; i < n; i++ {
		jobsChan <- job{Index: i}
	}

	close(jobsChan)
	wg.Wait()
	close(resultsChan)

	// results processor
	var firstErr error
	firstIdx := n
	for result := range resultsChan {
		if result.Err != nil && result.Index < firstIdx {
			firstIdx = result.Index
			firstErr = result.Err
		}
	}

	return firstErr
}
