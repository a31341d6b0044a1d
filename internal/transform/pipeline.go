package transform

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	// webp also registers its decoder with image.Decode.
	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

var (
	ErrCropOutOfBounds = errors.New("crop rectangle exceeds image bounds")
	ErrImageTooLarge   = errors.New("image exceeds maximum pixel count")
)

// PipelineError reports the stage at which a transformation failed.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("transform %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, err error) error {
	return &PipelineError{Stage: stage, Err: err}
}

type Options struct {
	// MaxPixels caps width*height of the decoded source and of any resize
	// target. Zero disables the check.
	MaxPixels   int
	JPEGQuality int
	WebPQuality float32
}

type Result struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// Pipeline applies a validated Spec to encoded image bytes. It holds no
// mutable state and is safe for concurrent use.
type Pipeline struct {
	opts Options
}

func NewPipeline(opts Options) *Pipeline {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 85
	}
	if opts.WebPQuality <= 0 || opts.WebPQuality > 100 {
		opts.WebPQuality = 80
	}
	return &Pipeline{opts: opts}
}

// Apply runs the fixed sequence resize, crop, rotate, flip, flop,
// grayscale, sepia, blur, encode. Each step works on the output of the
// previous one, so crop coordinates refer to the resized image.
func (p *Pipeline) Apply(src []byte, spec Spec) (Result, error) {
	img, err := p.decode(src)
	if err != nil {
		return Result{}, err
	}

	if spec.Resize != nil {
		if err := p.checkPixels(spec.Resize.Width, spec.Resize.Height); err != nil {
			return Result{}, stageErr("resize", err)
		}
		img = resize(img, *spec.Resize)
	}
	if spec.Crop != nil {
		if img, err = crop(img, *spec.Crop); err != nil {
			return Result{}, stageErr("crop", err)
		}
	}
	img = rotate(img, spec.Rotate)
	if spec.Flip {
		img = imaging.FlipV(img)
	}
	if spec.Flop {
		img = imaging.FlipH(img)
	}
	if f := spec.Filters; f != nil {
		if f.Grayscale {
			img = imaging.Grayscale(img)
		}
		if f.Sepia {
			img = sepia(img)
		}
		if f.Blur > 0 {
			img = imaging.Blur(img, f.Blur)
		}
	}

	format := spec.Format
	if format == "" {
		format = FormatJPEG
	}
	data, err := p.encode(img, format)
	if err != nil {
		return Result{}, stageErr("encode", err)
	}

	b := img.Bounds()
	return Result{
		Data:     data,
		MimeType: format.MimeType(),
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}

func (p *Pipeline) decode(src []byte) (image.Image, error) {
	if len(src) == 0 {
		return nil, stageErr("decode", errors.New("empty source"))
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, stageErr("decode", err)
	}
	if err := p.checkPixels(cfg.Width, cfg.Height); err != nil {
		return nil, stageErr("decode", err)
	}
	// Geometry is expressed in the displayed frame, the same one the
	// worker records as the image's width and height.
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, stageErr("decode", err)
	}
	return img, nil
}

func (p *Pipeline) checkPixels(width, height int) error {
	if p.opts.MaxPixels > 0 && int64(width)*int64(height) > int64(p.opts.MaxPixels) {
		return fmt.Errorf("%w: %dx%d > %d", ErrImageTooLarge, width, height, p.opts.MaxPixels)
	}
	return nil
}

func (p *Pipeline) encode(img image.Image, format Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.opts.JPEGQuality))
	case FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	case FormatWebP:
		err = webp.Encode(&buf, img, &webp.Options{Quality: p.opts.WebPQuality})
	default:
		err = fmt.Errorf("unsupported output format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func resize(img image.Image, r Resize) image.Image {
	switch r.Fit {
	case FitFill:
		return imaging.Resize(img, r.Width, r.Height, imaging.Lanczos)
	case FitContain:
		return contain(img, r.Width, r.Height)
	default:
		return imaging.Fill(img, r.Width, r.Height, imaging.Center, imaging.Lanczos)
	}
}

// contain scales img, up or down, until it touches the box on one axis and
// centers it on an opaque black canvas of exactly width x height.
func contain(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	scale := float64(width) / float64(b.Dx())
	if s := float64(height) / float64(b.Dy()); s < scale {
		scale = s
	}
	w := clampDim(int(float64(b.Dx())*scale+0.5), width)
	h := clampDim(int(float64(b.Dy())*scale+0.5), height)

	scaled := imaging.Resize(img, w, h, imaging.Lanczos)
	canvas := imaging.New(width, height, color.NRGBA{A: 255})
	return imaging.PasteCenter(canvas, scaled)
}

func clampDim(v, max int) int {
	if v < 1 {
		return 1
	}
	if v > max {
		return max
	}
	return v
}

func crop(img image.Image, c Crop) (image.Image, error) {
	b := img.Bounds()
	rect := image.Rect(b.Min.X+c.X, b.Min.Y+c.Y, b.Min.X+c.X+c.Width, b.Min.Y+c.Y+c.Height)
	if !rect.In(b) {
		return nil, fmt.Errorf("%w: %v not within %dx%d", ErrCropOutOfBounds, image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height), b.Dx(), b.Dy())
	}
	return imaging.Crop(img, rect), nil
}

// rotate turns img clockwise. imaging rotates counter-clockwise, hence the
// swapped 90/270 cases.
func rotate(img image.Image, degrees int) image.Image {
	switch degrees {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

func sepia(img image.Image) image.Image {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		r, g, b := float64(c.R), float64(c.G), float64(c.B)
		return color.NRGBA{
			R: clampChannel(0.3588*r + 0.7044*g + 0.1368*b),
			G: clampChannel(0.2990*r + 0.5870*g + 0.1140*b),
			B: clampChannel(0.2392*r + 0.4696*g + 0.0912*b),
			A: c.A,
		}
	})
}

func clampChannel(v float64) uint8 {
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v + 0.5)
}
