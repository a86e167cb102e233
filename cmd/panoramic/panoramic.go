package main

import (
	"fmt"
	"image"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ricdezen/panoramic/pkg/pano"
)

type options struct {
	verbosity  int
	configFile string
	fov        float64
	direction  string
	suffix     string
	detector   string
	ratio      float64
	draw       bool
	out        string
}

var variantNames = []string{"color", "color-eq", "gray", "gray-eq"}

func newRootCmd(o *options) *cobra.Command {

	cmd := &cobra.Command{
		Use:   "panoramic [dirs/files...]",
		Short: "Stitch a sequence of overlapping photos into a panorama",
		Long: `Stitches photos taken by a camera turning about its vertical axis. Images are
loaded from the files and dirs given (dirs in name order); a .yaml file among them
supplies the base configuration, which flags then override.`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(newLogger(o.verbosity))
			return run(cmd, *o, args)
		},
	}

	f := cmd.Flags()
	f.CountVarP(&o.verbosity, "verbose", "v", "how verbose to get (repeat for more)")
	f.StringVar(&o.configFile, "config", "", "yaml config file")
	f.Float64Var(&o.fov, "fov", 66, "full horizontal field of view of the camera, in degrees")
	f.StringVar(&o.direction, "direction", "r", "which way the camera turned: r|l")
	f.StringVar(&o.suffix, "suffix", "", "only load images whose names end with this")
	f.StringVar(&o.detector, "detector", "sift", "feature detector: "+pano.ListDetectors())
	f.Float64Var(&o.ratio, "ratio", 10, "keep matches within this multiple of the closest match distance")
	f.BoolVar(&o.draw, "draw", false, "also write images of the matches between each pair")
	f.StringVar(&o.out, "out", "panorama", "prefix for the output filenames")

	return cmd
}

// buildConfig layers explicitly set flags over the base config, which
// comes from a yaml file if one was loaded.
func buildConfig(cmd *cobra.Command, o options, coll *pano.Collection) (pano.Config, error) {
	cfg := coll.Config
	changed := cmd.Flags().Changed

	if o.configFile != "" {
		b, err := os.ReadFile(o.configFile)
		if err != nil {
			return cfg, fmt.Errorf("config read %s: %w", o.configFile, err)
		}
		if cfg, err = pano.NewConfigFromYaml(b); err != nil {
			return cfg, fmt.Errorf("config parse %s: %w", o.configFile, err)
		}
	}

	switch {
	case changed("fov"):
		cfg.HalfFOVDeg = o.fov / 2
	case coll.FOVDeg > 0 && !coll.HasConfig && o.configFile == "":
		cfg.HalfFOVDeg = coll.FOVDeg / 2
	case !coll.HasConfig && o.configFile == "":
		cfg.HalfFOVDeg = o.fov / 2
	}
	if changed("direction") {
		d, err := pano.ParseDirection(o.direction)
		if err != nil {
			return cfg, err
		}
		cfg.Direction = d
	}
	if changed("detector") {
		cfg.Detector = o.detector
	}
	if changed("ratio") {
		cfg.DistRatio = o.ratio
	}
	if changed("verbose") {
		cfg.Verbosity = o.verbosity
	}

	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, o options, args []string) error {
	log := slog.Default()
	coll := pano.NewCollection()
	coll.Suffix = o.suffix
	coll.Logger = log
	if err := coll.LoadFilesAndDirs(args...); err != nil {
		return err
	}

	cfg, err := buildConfig(cmd, o, coll)
	if err != nil {
		return err
	}
	if cfg.Verbosity > 0 {
		log.Info("final configuration", "yaml", cfg.AsYaml())
	}
	log.Info("loaded images", "count", len(coll.Images), "files", coll.Filenames)

	p, err := pano.New(coll.Images, cfg, pano.WithLogger(log))
	if err != nil {
		return err
	}

	results, err := p.GetAll(o.draw)
	if err != nil {
		return err
	}

	for i, img := range results {
		if err := writeImage(img, fmt.Sprintf("%s-%s.png", o.out, variantNames[i])); err != nil {
			return err
		}
	}
	if err := writeImage(pano.VConcat(results...), o.out+"-all.png"); err != nil {
		return err
	}

	for i, img := range p.MatchImages() {
		if err := writeImage(img, fmt.Sprintf("%s-matches-%02d.png", o.out, i)); err != nil {
			return err
		}
	}

	return nil
}

func writeImage(img image.Image, filename string) error {
	if err := pano.WritePNG(img, filename); err != nil {
		return err
	}
	slog.Info("wrote", "file", filename, "size", img.Bounds().Size())
	return nil
}

func newLogger(verbosity int) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case verbosity > 1:
		level = slog.LevelDebug
	case verbosity == 1:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	if err := newRootCmd(&options{}).Execute(); err != nil {
		os.Exit(1)
	}
}
