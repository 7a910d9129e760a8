// Package assets decodes texture images into the RGBA8 byte layout the
// renderer uploads to the GPU.
package assets

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	xdraw "golang.org/x/image/draw"
)

// Texture is a decoded image: tightly packed RGBA8 rows, top to bottom.
type Texture struct {
	Width  uint32
	Height uint32
	Pixels []byte
}

// Validate checks that the pixel payload matches the declared dimensions.
func (t *Texture) Validate() error {
	want := int(t.Width) * int(t.Height) * 4
	if len(t.Pixels) != want {
		return fmt.Errorf("texture payload is %d bytes, want %d for %dx%d RGBA", len(t.Pixels), want, t.Width, t.Height)
	}
	if t.Width == 0 || t.Height == 0 {
		return fmt.Errorf("texture has zero dimension %dx%d", t.Width, t.Height)
	}
	return nil
}

// Load decodes the image at path. PNG and binary PPM (P6) are supported.
func Load(path string) (*Texture, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return loadPNG(path)
	case ".ppm":
		return loadPPM(path)
	default:
		return nil, fmt.Errorf("unsupported texture format %q", filepath.Ext(path))
	}
}

func loadPNG(path string) (*Texture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open texture: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode png %s: %w", path, err)
	}

	// Repack whatever color model the decoder produced into straight RGBA8.
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	xdraw.Draw(rgba, rgba.Bounds(), img, bounds.Min, xdraw.Src)

	t := &Texture{
		Width:  uint32(bounds.Dx()),
		Height: uint32(bounds.Dy()),
		Pixels: rgba.Pix,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func loadPPM(path string) (*Texture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open texture: %w", err)
	}
	return DecodePPM(data)
}

// DecodePPM parses a binary P6 PPM with 8-bit samples and expands the RGB
// payload to RGBA.
func DecodePPM(data []byte) (*Texture, error) {
	if len(data) < 2 || data[0] != 'P' || data[1] != '6' {
		return nil, fmt.Errorf("not a binary P6 ppm")
	}
	pos := 2
	next := func() (string, error) {
		for pos < len(data) && isPPMSpace(data[pos]) {
			pos++
		}
		start := pos
		for pos < len(data) && !isPPMSpace(data[pos]) {
			pos++
		}
		if start == pos {
			return "", fmt.Errorf("ppm header truncated")
		}
		return string(data[start:pos]), nil
	}

	var dims [3]int
	for i := range dims {
		tok, err := next()
		if err != nil {
			return nil, err
		}
		v, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("ppm header field %q: %w", tok, err)
		}
		dims[i] = v
	}
	width, height, maxVal := dims[0], dims[1], dims[2]
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid ppm dimensions %dx%d", width, height)
	}
	if maxVal != 255 {
		return nil, fmt.Errorf("unsupported ppm max value %d", maxVal)
	}

	// Exactly one whitespace byte separates the header from the payload.
	if pos < len(data) && isPPMSpace(data[pos]) {
		pos++
	}
	rgb := data[pos:]
	if len(rgb) < width*height*3 {
		return nil, fmt.Errorf("ppm payload truncated: %d bytes, want %d", len(rgb), width*height*3)
	}

	pixels := make([]byte, width*height*4)
	for i := 0; i < width*height; i++ {
		copy(pixels[i*4:], rgb[i*3:i*3+3])
		pixels[i*4+3] = 255
	}
	return &Texture{Width: uint32(width), Height: uint32(height), Pixels: pixels}, nil
}

func isPPMSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Checker returns a 2x2 black/white fallback used when no texture asset is
// configured or the configured one fails to decode.
func Checker() *Texture {
	return &Texture{
		Width:  2,
		Height: 2,
		Pixels: []byte{
			255, 255, 255, 255, 50, 50, 50, 255,
			50, 50, 50, 255, 255, 255, 255, 255,
		},
	}
}
