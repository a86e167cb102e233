package main

import (
	"image"
	"image/color"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"

	"github.com/ricdezen/panoramic/pkg/pano"
)

func TestBuildConfigFlagsOverride(t *testing.T) {
	o := &options{}
	cmd := newRootCmd(o)
	require.NoError(t, cmd.ParseFlags([]string{"--fov", "90", "--direction", "l", "--detector", "orb", "--ratio", "4", "-vv"}))

	cfg, err := buildConfig(cmd, *o, pano.NewCollection())
	require.NoError(t, err)
	assert.Equal(t, 45.0, cfg.HalfFOVDeg)
	assert.Equal(t, pano.Left, cfg.Direction)
	assert.Equal(t, "orb", cfg.Detector)
	assert.Equal(t, 4.0, cfg.DistRatio)
	assert.Equal(t, 2, cfg.Verbosity)
}

func TestBuildConfigFOVSources(t *testing.T) {
	o := &options{}
	cmd := newRootCmd(o)
	require.NoError(t, cmd.ParseFlags(nil))

	coll := pano.NewCollection()
	cfg, err := buildConfig(cmd, *o, coll)
	require.NoError(t, err)
	assert.Equal(t, 33.0, cfg.HalfFOVDeg)

	coll.FOVDeg = 40
	cfg, err = buildConfig(cmd, *o, coll)
	require.NoError(t, err)
	assert.Equal(t, 20.0, cfg.HalfFOVDeg, "exif beats the default")

	coll.HasConfig = true
	coll.Config.HalfFOVDeg = 12
	cfg, err = buildConfig(cmd, *o, coll)
	require.NoError(t, err)
	assert.Equal(t, 12.0, cfg.HalfFOVDeg, "a config file beats exif")
}

func TestBuildConfigRejectsBadFlags(t *testing.T) {
	o := &options{}
	cmd := newRootCmd(o)
	require.NoError(t, cmd.ParseFlags([]string{"--direction", "up"}))
	_, err := buildConfig(cmd, *o, pano.NewCollection())
	assert.ErrorIs(t, err, pano.ErrConfig)

	o = &options{}
	cmd = newRootCmd(o)
	require.NoError(t, cmd.ParseFlags([]string{"--detector", "akaze"}))
	_, err = buildConfig(cmd, *o, pano.NewCollection())
	assert.ErrorIs(t, err, pano.ErrConfig)
}

func texture(w, h int) *image.RGBA {
	rng := rand.New(rand.NewPCG(8, 9))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{128}), image.Point{}, draw.Src)
	for i := 0; i < w*h/150; i++ {
		x, y := rng.IntN(w), rng.IntN(h)
		v := uint8(rng.IntN(256))
		r := image.Rect(x, y, x+6+rng.IntN(30), y+6+rng.IntN(30))
		draw.Draw(img, r, image.NewUniform(color.RGBA{v, v, 255 - v, 255}), image.Point{}, draw.Src)
	}
	return img
}

func TestRunWritesOutputs(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	tex := texture(320, 200)
	for i, x := range []int{8, 72} {
		tile := image.NewRGBA(image.Rect(0, 0, 160, 128))
		draw.Draw(tile, tile.Bounds(), tex, image.Pt(x, 16), draw.Src)
		require.NoError(t, pano.WritePNG(tile, filepath.Join(in, []string{"a.png", "b.png"}[i])))
	}

	prefix := filepath.Join(out, "p")
	cmd := newRootCmd(&options{})
	cmd.SetArgs([]string{in, "--fov", "0.002", "--detector", "orb", "--ratio", "60", "--draw", "--out", prefix})
	require.NoError(t, cmd.Execute())

	for _, name := range []string{"p-color.png", "p-color-eq.png", "p-gray.png", "p-gray-eq.png", "p-all.png", "p-matches-00.png"} {
		_, err := os.Stat(filepath.Join(out, name))
		assert.NoError(t, err, name)
	}
}
