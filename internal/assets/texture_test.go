package assets

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestDecodePPM(t *testing.T) {
	data := []byte("P6\n2 2\n255\n")
	data = append(data,
		255, 0, 0,
		0, 255, 0,
		0, 0, 255,
		255, 255, 255,
	)

	tex, err := DecodePPM(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tex.Width != 2 || tex.Height != 2 {
		t.Fatalf("got %dx%d, want 2x2", tex.Width, tex.Height)
	}
	if err := tex.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	want := []byte{
		255, 0, 0, 255,
		0, 255, 0, 255,
		0, 0, 255, 255,
		255, 255, 255, 255,
	}
	if !bytes.Equal(tex.Pixels, want) {
		t.Errorf("pixels = %v, want %v", tex.Pixels, want)
	}
}

func TestDecodePPMRejectsBadInput(t *testing.T) {
	cases := map[string][]byte{
		"wrong magic":   []byte("P3\n1 1\n255\n000"),
		"truncated":     []byte("P6\n4 4\n255\n\x00\x00\x00"),
		"bad max value": append([]byte("P6\n1 1\n65535\n"), 0, 0, 0, 0, 0, 0),
		"empty":         nil,
	}
	for name, data := range cases {
		if _, err := DecodePPM(data); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadPNG(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 60), G: uint8(y * 100), B: 20, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "tex.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tex, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tex.Width != 4 || tex.Height != 2 {
		t.Fatalf("got %dx%d, want 4x2", tex.Width, tex.Height)
	}
	if err := tex.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	// Spot-check one fully opaque pixel survived the RGBA repack.
	if tex.Pixels[3] != 255 {
		t.Errorf("alpha of first pixel = %d, want 255", tex.Pixels[3])
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	if _, err := Load("texture.bmp"); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestChecker(t *testing.T) {
	tex := Checker()
	if err := tex.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if tex.Width != 2 || tex.Height != 2 {
		t.Errorf("got %dx%d, want 2x2", tex.Width, tex.Height)
	}
}
