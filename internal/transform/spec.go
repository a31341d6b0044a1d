package transform

// Fit selects how Resize maps the source onto the target box. Every fit
// produces an image of exactly the requested width and height.
type Fit string

const (
	// FitCover scales to fill the box and crops the overflow around the center.
	FitCover Fit = "cover"
	// FitContain scales to fit inside the box and letterboxes the rest.
	FitContain Fit = "contain"
	// FitFill stretches to the box, ignoring the aspect ratio.
	FitFill Fit = "fill"
)

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

func (f Format) MimeType() string {
	return "image/" + string(f)
}

type Resize struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
	Fit    Fit `mapstructure:"fit"`
}

type Crop struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
	X      int `mapstructure:"x"`
	Y      int `mapstructure:"y"`
}

type Filters struct {
	Grayscale bool    `mapstructure:"grayscale"`
	Sepia     bool    `mapstructure:"sepia"`
	Blur      float64 `mapstructure:"blur"`
}

// Spec is a validated transformation request. Nil sub-specs are skipped
// by the pipeline; Format is always set.
type Spec struct {
	Resize  *Resize  `mapstructure:"resize"`
	Crop    *Crop    `mapstructure:"crop"`
	Rotate  int      `mapstructure:"rotate"`
	Flip    bool     `mapstructure:"flip"`
	Flop    bool     `mapstructure:"flop"`
	Filters *Filters `mapstructure:"filters"`
	Format  Format   `mapstructure:"format"`
}
