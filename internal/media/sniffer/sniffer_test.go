package sniffer

import (
	"net/http"
	"testing"
)

func TestDetectHead(t *testing.T) {
	tests := []struct {
		name   string
		head   []byte
		kind   Kind
		raster bool
	}{
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0, 0x00}, KindJPEG, true},
		{"png", append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, 0, 0), KindPNG, true},
		{"gif", []byte("GIF89a\x01\x00"), KindGIF, true},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), KindWEBP, true},
		{"avif", []byte("\x00\x00\x00\x1cftypavif\x00\x00\x00\x00"), KindAVIF, false},
		{"svg", []byte("  <svg xmlns=\"http://www.w3.org/2000/svg\"></svg>"), KindSVG, false},
		{"svg with prolog", []byte("<?xml version=\"1.0\"?>\n<svg></svg>"), KindSVG, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := DetectHead(tt.head)
			if err != nil {
				t.Fatalf("DetectHead() error = %v", err)
			}
			if res.Kind != tt.kind || res.Raster() != tt.raster {
				t.Errorf("got %+v raster=%v, want %s raster=%v", res, res.Raster(), tt.kind, tt.raster)
			}
		})
	}

	for _, head := range [][]byte{nil, []byte("hello world"), []byte("<?xml version=\"1.0\"?><note/>")} {
		if _, err := DetectHead(head); err != ErrUnknownType {
			t.Errorf("DetectHead(%q) error = %v, want ErrUnknownType", head, err)
		}
	}
}

func TestDeclaredType(t *testing.T) {
	h := http.Header{}
	if got := DeclaredType(h); got != "" {
		t.Errorf("missing header = %q", got)
	}
	h.Set("Content-Type", "Image/PNG; charset=binary")
	if got := DeclaredType(h); got != "image/png" {
		t.Errorf("DeclaredType = %q", got)
	}
	if !IsImageType("image/png") || IsImageType("image/") || IsImageType("text/plain") {
		t.Error("IsImageType misclassified")
	}
}
