package emath

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatGridBlurKeepsFlatGrid(t *testing.T) {
	fg := NewFloatGrid(9, 7)
	for x := 0; x < 9; x++ {
		for y := 0; y < 7; y++ {
			fg.Set(x, y, 0.25)
		}
	}

	blurred := fg.Blur(4)
	for x := 0; x < 9; x++ {
		for y := 0; y < 7; y++ {
			assert.InDelta(t, 0.25, blurred.Get(x, y), 1e-12)
		}
	}
}

func TestFloatGridBlurSpreadsImpulse(t *testing.T) {
	fg := NewFloatGrid(5, 5)
	fg.Set(2, 2, 1.0)

	g := fg.GaussianBlur()
	assert.InDelta(t, 0.25, g.Get(2, 2), 1e-12)
	assert.InDelta(t, 0.125, g.Get(1, 2), 1e-12)
	assert.InDelta(t, 0.0625, g.Get(1, 1), 1e-12)
	assert.Equal(t, 0.0, g.Get(0, 0))
}

func TestFloatGridDownSampleAndSub(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 10)
	}
	fg := NewFloatGridFromGray(img)
	require.Equal(t, 4, fg.Dx())
	require.Equal(t, 4, fg.Dy())

	small := fg.DownSample()
	require.Equal(t, 2, small.Dx())
	require.Equal(t, 2, small.Dy())
	// mean of pixels 0,1,4,5 -> (0+10+40+50)/4 = 25
	assert.InDelta(t, 25.0/255.0, small.Get(0, 0), 1e-12)

	diff := fg.Sub(&fg)
	assert.Equal(t, 0.0, diff.Get(3, 3))
}

func TestBlurPassesForVariance(t *testing.T) {
	assert.Equal(t, 0, BlurPassesForVariance(2, 1))
	assert.Equal(t, 5, BlurPassesForVariance(0, 2.56))
	assert.Equal(t, 3, BlurPassesForVariance(2.56, 4.06))
}

func TestGradients(t *testing.T) {
	fg := NewFloatGrid(5, 5)
	for x := 0; x < 5; x++ {
		for y := 0; y < 5; y++ {
			fg.Set(x, y, float64(x))
		}
	}
	mag, ori := fg.Gradients()
	assert.InDelta(t, 2.0, mag.Get(2, 2), 1e-12)
	assert.InDelta(t, 0.0, ori.Get(2, 2), 1e-12)
}
