package pano

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// A Collection is the images (and optional config) gathered from the
// command line, in the order they should be stitched.
type Collection struct {
	Suffix string // If set, only images whose name (less extension) ends with this are loaded

	Config    Config
	HasConfig bool // Config came from a .yaml file
	Filenames []string
	Images    []image.Image

	// FOVDeg is the full horizontal field of view implied by the EXIF
	// 35mm-equivalent focal length of the first image that has one, or
	// zero.
	FOVDeg float64

	Logger *slog.Logger
}

func NewCollection() *Collection {
	return &Collection{Config: NewConfig(), Logger: slog.Default()}
}

func (c *Collection) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// LoadFilesAndDirs loads each file, and each file inside each dir (in
// name order). Files it doesn't know how to decode are skipped.
func (c *Collection) LoadFilesAndDirs(args ...string) error {
	for _, arg := range args {
		item, err := os.Stat(arg)

		switch {

		case err != nil:
			return fmt.Errorf("load %s: %w", arg, err)

		case item.IsDir():
			// Is a dir, recurse into contents
			contents, err := os.ReadDir(arg)
			if err != nil {
				return fmt.Errorf("readdir %s: %w", arg, err)
			}
			for _, content := range contents {
				if err := c.LoadFilesAndDirs(filepath.Join(arg, content.Name())); err != nil {
					return fmt.Errorf("load %s: %w", arg, err)
				}
			}

		default: // is a file, load it
			if err := c.loadFile(arg); err != nil {
				return fmt.Errorf("loadfile %s: %w", arg, err)
			}
		}
	}

	return nil
}

type decodeFunc func(io.Reader) (image.Image, error)

var decoders = map[string]decodeFunc{
	".bmp":  bmp.Decode,
	".tif":  tiff.Decode,
	".tiff": tiff.Decode,
	".png":  png.Decode,
	".jpg":  jpeg.Decode,
	".jpeg": jpeg.Decode,
}

func (c *Collection) loadFile(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	if ext == ".yaml" {
		cfg, err := loadConfig(filename)
		if err != nil {
			return fmt.Errorf("loading %s as config YAML failed: %w", filename, err)
		}
		c.Config = cfg
		c.HasConfig = true
		c.logger().Info("loaded base configuration", "file", filename)
		return nil
	}

	decode, exists := decoders[ext]
	if !exists {
		return nil
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if c.Suffix != "" && !strings.HasSuffix(base, c.Suffix) {
		return nil
	}

	img, err := loadImage(filename, decode)
	if err != nil {
		return err
	}
	c.Filenames = append(c.Filenames, filename)
	c.Images = append(c.Images, img)

	if c.FOVDeg == 0 {
		if fov, ok := fovFromExif(filename); ok {
			c.FOVDeg = fov
			c.logger().Info("field of view from exif", "file", filename, "fov", fov)
		}
	}
	return nil
}

func loadConfig(filename string) (Config, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("config read %s: %w", filename, err)
	}

	return NewConfigFromYaml(contents)
}

func loadImage(filename string, decode decodeFunc) (image.Image, error) {
	reader, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open+r img '%s': %w", filename, err)
	}
	defer reader.Close()

	img, err := decode(reader)
	if err != nil {
		return nil, fmt.Errorf("decoding '%s': %w", filename, err)
	}
	return img, nil
}

// fovFromExif reads FocalLengthIn35mmFilm, and turns it into the
// horizontal field of view of a 36mm wide frame.
func fovFromExif(filename string) (float64, bool) {
	reader, err := os.Open(filename)
	if err != nil {
		return 0, false
	}
	defer reader.Close()

	ex, err := exif.Decode(reader)
	if err != nil {
		return 0, false
	}
	tag, err := ex.Get(exif.FocalLengthIn35mmFilm)
	if err != nil {
		return 0, false
	}
	f, err := tag.Int(0)
	if err != nil || f <= 0 {
		return 0, false
	}
	return FOVFromFocalLength(float64(f)), true
}

// FOVFromFocalLength is the horizontal field of view, in degrees, of a
// lens with the given 35mm-equivalent focal length.
func FOVFromFocalLength(mm float64) float64 {
	return 2 * math.Atan(36.0/(2*mm)) * 180.0 / math.Pi
}
