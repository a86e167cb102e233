package pano

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFilesAndDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WritePNG(flatImage(8, 6, 10), filepath.Join(dir, "b_pano.png")))
	require.NoError(t, WritePNG(flatImage(8, 6, 20), filepath.Join(dir, "a_pano.png")))
	require.NoError(t, WritePNG(flatImage(8, 6, 30), filepath.Join(dir, "c_other.png")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cfg.yaml"), []byte("detector: orb\nhalffovdeg: 25\n"), 0o644))

	var buf bytes.Buffer
	c := NewCollection()
	c.Logger = bufferLogger(&buf)
	require.NoError(t, c.LoadFilesAndDirs(dir))
	assert.Contains(t, buf.String(), "loaded base configuration")
	assert.Equal(t, []string{
		filepath.Join(dir, "a_pano.png"),
		filepath.Join(dir, "b_pano.png"),
		filepath.Join(dir, "c_other.png"),
	}, c.Filenames)
	require.Len(t, c.Images, 3)
	assert.True(t, c.HasConfig)
	assert.Equal(t, "orb", c.Config.Detector)
	assert.Equal(t, 25.0, c.Config.HalfFOVDeg)
	assert.Equal(t, 0.0, c.FOVDeg, "png has no exif")

	c = NewCollection()
	c.Suffix = "_pano"
	require.NoError(t, c.LoadFilesAndDirs(dir))
	assert.Len(t, c.Images, 2)

	gray := ToGray(c.Images[0])
	assert.Equal(t, uint8(20), gray.Pix[0])
}

func TestLoadErrors(t *testing.T) {
	c := NewCollection()
	assert.Error(t, c.LoadFilesAndDirs(filepath.Join(t.TempDir(), "missing")))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("not a png"), 0o644))
	assert.Error(t, c.LoadFilesAndDirs(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("direction: sideways\n"), 0o644))
	assert.ErrorIs(t, NewCollection().LoadFilesAndDirs(filepath.Join(dir, "bad.yaml")), ErrConfig)
}

func TestFOVFromFocalLength(t *testing.T) {
	assert.InDelta(t, 90.0, FOVFromFocalLength(18), 1e-9)
	assert.InDelta(t, 39.6, FOVFromFocalLength(50), 0.05)
}

func TestVConcat(t *testing.T) {
	out := VConcat(flatImage(10, 4, 1), solidGray(6, 3, 2))
	assert.Equal(t, 10, out.Bounds().Dx())
	assert.Equal(t, 7, out.Bounds().Dy())
	assert.Equal(t, uint8(2), out.RGBAAt(0, 5).R)
	assert.Equal(t, uint8(0), out.RGBAAt(8, 5).R)
}
