package transform

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/miracsucu4417/image-processing-service/internal/testutil"
)

// gradient returns a PNG whose pixels are all distinct enough to detect
// any geometric change.
func gradient(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: uint8((x + y) % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func decoded(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return img
}

func TestApplyResizeExactDimensions(t *testing.T) {
	p := NewPipeline(Options{})
	src := gradient(t, 64, 48)

	for _, fit := range []Fit{FitCover, FitContain, FitFill} {
		for _, box := range [][2]int{{32, 32}, {100, 20}, {7, 90}, {64, 48}} {
			spec := Spec{Resize: &Resize{Width: box[0], Height: box[1], Fit: fit}, Format: FormatPNG}
			res, err := p.Apply(src, spec)
			if err != nil {
				t.Fatalf("fit=%s box=%v: %v", fit, box, err)
			}
			b := decoded(t, res.Data).Bounds()
			if b.Dx() != box[0] || b.Dy() != box[1] {
				t.Errorf("fit=%s: got %dx%d, want %dx%d", fit, b.Dx(), b.Dy(), box[0], box[1])
			}
			if res.Width != box[0] || res.Height != box[1] {
				t.Errorf("fit=%s: result reports %dx%d", fit, res.Width, res.Height)
			}
		}
	}
}

func TestApplyCropRelativeToResizedImage(t *testing.T) {
	p := NewPipeline(Options{})
	src := gradient(t, 400, 400)

	// Inside the 100x100 resized image, although far inside the source too.
	res, err := p.Apply(src, Spec{
		Resize: &Resize{Width: 100, Height: 100, Fit: FitCover},
		Crop:   &Crop{Width: 50, Height: 40, X: 50, Y: 60},
		Format: FormatPNG,
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if b := decoded(t, res.Data).Bounds(); b.Dx() != 50 || b.Dy() != 40 {
		t.Errorf("got %dx%d, want 50x40", b.Dx(), b.Dy())
	}

	// Valid for the 400x400 source but outside the resized image.
	_, err = p.Apply(src, Spec{
		Resize: &Resize{Width: 100, Height: 100, Fit: FitCover},
		Crop:   &Crop{Width: 50, Height: 50, X: 60, Y: 0},
		Format: FormatPNG,
	})
	if !errors.Is(err, ErrCropOutOfBounds) {
		t.Fatalf("error = %v, want ErrCropOutOfBounds", err)
	}
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Stage != "crop" {
		t.Errorf("error = %#v, want PipelineError at crop", err)
	}
}

func TestApplyCropOutOfBounds(t *testing.T) {
	p := NewPipeline(Options{})
	src := gradient(t, 20, 10)

	for _, c := range []Crop{
		{Width: 21, Height: 1, X: 0, Y: 0},
		{Width: 1, Height: 1, X: 20, Y: 0},
		{Width: 5, Height: 5, X: 0, Y: 6},
	} {
		if _, err := p.Apply(src, Spec{Crop: &c, Format: FormatPNG}); !errors.Is(err, ErrCropOutOfBounds) {
			t.Errorf("crop %+v: error = %v, want ErrCropOutOfBounds", c, err)
		}
	}

	res, err := p.Apply(src, Spec{Crop: &Crop{Width: 20, Height: 10}, Format: FormatPNG})
	if err != nil {
		t.Fatalf("full-size crop: %v", err)
	}
	if res.Width != 20 || res.Height != 10 {
		t.Errorf("full-size crop: got %dx%d", res.Width, res.Height)
	}
}

func TestApplyRotateZeroIsNoop(t *testing.T) {
	p := NewPipeline(Options{})
	src := gradient(t, 16, 9)

	res, err := p.Apply(src, Spec{Rotate: 0, Format: FormatPNG})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	want := decoded(t, src)
	got := decoded(t, res.Data)
	if got.Bounds() != want.Bounds() {
		t.Fatalf("bounds %v, want %v", got.Bounds(), want.Bounds())
	}
	for y := 0; y < 9; y++ {
		for x := 0; x < 16; x++ {
			g := color.NRGBAModel.Convert(got.At(x, y))
			w := color.NRGBAModel.Convert(want.At(x, y))
			if g != w {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, g, w)
			}
		}
	}
}

func TestApplyRotateClockwise(t *testing.T) {
	p := NewPipeline(Options{})
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	red := color.NRGBA{R: 255, A: 255}
	img.SetNRGBA(0, 0, red)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	res, err := p.Apply(buf.Bytes(), Spec{Rotate: 90, Format: FormatPNG})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	out := decoded(t, res.Data)
	if b := out.Bounds(); b.Dx() != 2 || b.Dy() != 3 {
		t.Fatalf("bounds %v, want 2x3", b)
	}
	// Top-left moves to top-right on a clockwise turn.
	if c := color.NRGBAModel.Convert(out.At(1, 0)); c != red {
		t.Errorf("pixel (1,0) = %v, want red", c)
	}
}

func TestApplyFlipAndFlop(t *testing.T) {
	p := NewPipeline(Options{})
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	red := color.NRGBA{R: 255, A: 255}
	img.SetNRGBA(0, 0, red)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		spec Spec
		x, y int
	}{
		{name: "flip", spec: Spec{Flip: true, Format: FormatPNG}, x: 0, y: 1},
		{name: "flop", spec: Spec{Flop: true, Format: FormatPNG}, x: 1, y: 0},
		{name: "both", spec: Spec{Flip: true, Flop: true, Format: FormatPNG}, x: 1, y: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.Apply(buf.Bytes(), tt.spec)
			if err != nil {
				t.Fatal(err)
			}
			if c := color.NRGBAModel.Convert(decoded(t, res.Data).At(tt.x, tt.y)); c != red {
				t.Errorf("pixel (%d,%d) = %v, want red", tt.x, tt.y, c)
			}
		})
	}
}

func TestApplyFilters(t *testing.T) {
	p := NewPipeline(Options{})
	src := gradient(t, 8, 8)

	res, err := p.Apply(src, Spec{Filters: &Filters{Grayscale: true}, Format: FormatPNG})
	if err != nil {
		t.Fatal(err)
	}
	out := decoded(t, res.Data)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			c := color.NRGBAModel.Convert(out.At(x, y)).(color.NRGBA)
			if c.R != c.G || c.G != c.B {
				t.Fatalf("grayscale pixel (%d,%d) = %v", x, y, c)
			}
		}
	}

	res, err = p.Apply(src, Spec{Filters: &Filters{Sepia: true, Blur: 2}, Format: FormatPNG})
	if err != nil {
		t.Fatal(err)
	}
	if res.Width != 8 || res.Height != 8 {
		t.Errorf("sepia+blur changed geometry: %dx%d", res.Width, res.Height)
	}
}

func TestApplyFormats(t *testing.T) {
	p := NewPipeline(Options{JPEGQuality: 90})
	src := gradient(t, 10, 10)

	tests := []struct {
		format   Format
		mime     string
		registry string
	}{
		{format: "", mime: "image/jpeg", registry: "jpeg"},
		{format: FormatJPEG, mime: "image/jpeg", registry: "jpeg"},
		{format: FormatPNG, mime: "image/png", registry: "png"},
		{format: FormatWebP, mime: "image/webp", registry: "webp"},
	}
	for _, tt := range tests {
		res, err := p.Apply(src, Spec{Format: tt.format})
		if err != nil {
			t.Fatalf("format %q: %v", tt.format, err)
		}
		if res.MimeType != tt.mime {
			t.Errorf("format %q: mime %q, want %q", tt.format, res.MimeType, tt.mime)
		}
		_, name, err := image.DecodeConfig(bytes.NewReader(res.Data))
		if err != nil || name != tt.registry {
			t.Errorf("format %q: decoded as %q (%v)", tt.format, name, err)
		}
	}
}

func TestApplyRejectsBadSources(t *testing.T) {
	p := NewPipeline(Options{MaxPixels: 100})

	for name, src := range map[string][]byte{
		"empty":   nil,
		"garbage": []byte("definitely not an image"),
	} {
		_, err := p.Apply(src, Spec{Format: FormatPNG})
		var perr *PipelineError
		if !errors.As(err, &perr) || perr.Stage != "decode" {
			t.Errorf("%s: error = %v, want decode PipelineError", name, err)
		}
	}

	if _, err := p.Apply(gradient(t, 20, 20), Spec{Format: FormatPNG}); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("oversized source: error = %v, want ErrImageTooLarge", err)
	}
	if _, err := p.Apply(gradient(t, 5, 5), Spec{Resize: &Resize{Width: 50, Height: 50}, Format: FormatPNG}); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("oversized resize: error = %v, want ErrImageTooLarge", err)
	}
}

func TestApplyWorksInDisplayedOrientation(t *testing.T) {
	p := NewPipeline(Options{})
	// Stored as 40x20, displayed as 20x40 after a quarter turn.
	src := testutil.OrientedJPEG(40, 20, 6)

	res, err := p.Apply(src, Spec{Format: FormatPNG})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Width != 20 || res.Height != 40 {
		t.Errorf("plain re-encode = %dx%d, want 20x40", res.Width, res.Height)
	}

	res, err = p.Apply(src, Spec{Crop: &Crop{Width: 20, Height: 40}, Format: FormatPNG})
	if err != nil {
		t.Fatalf("full displayed-size crop: %v", err)
	}
	if b := decoded(t, res.Data).Bounds(); b.Dx() != 20 || b.Dy() != 40 {
		t.Errorf("crop output %dx%d, want 20x40", b.Dx(), b.Dy())
	}

	if _, err := p.Apply(src, Spec{Crop: &Crop{Width: 40, Height: 20}, Format: FormatPNG}); !errors.Is(err, ErrCropOutOfBounds) {
		t.Errorf("stored-frame crop: error = %v, want ErrCropOutOfBounds", err)
	}
}
