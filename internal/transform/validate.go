package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
)

const (
	fieldRoot = "transformations"

	// MaxBlurSigma bounds the gaussian sigma; kernel cost grows linearly with it.
	MaxBlurSigma = 1000
)

var (
	allowedRotations = map[int]struct{}{0: {}, 90: {}, 180: {}, 270: {}}
	allowedFormats   = map[Format]struct{}{FormatJPEG: {}, FormatPNG: {}, FormatWebP: {}}
	allowedFits      = map[Fit]struct{}{FitCover: {}, FitContain: {}, FitFill: {}}
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors lists every field that failed validation, one entry per field.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "invalid transformations: " + strings.Join(parts, "; ")
}

type collector struct {
	errs ValidationErrors
}

func (c *collector) add(field, message string) {
	c.errs = append(c.errs, FieldError{Field: field, Message: message})
}

// Validate checks a raw transformations object, as decoded from a JSON
// request body, and converts it into a Spec. All field errors are
// collected before returning; the error is always a ValidationErrors.
func Validate(raw map[string]any) (Spec, error) {
	if raw == nil {
		return Spec{}, ValidationErrors{{Field: fieldRoot, Message: "transformations are required"}}
	}
	if len(raw) == 0 {
		return Spec{}, ValidationErrors{{Field: fieldRoot, Message: "at least one transformation is required"}}
	}

	c := &collector{}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := raw[key]
		field := fieldRoot + "." + key
		switch key {
		case "resize":
			validateResize(c, field, value)
		case "crop":
			validateCrop(c, field, value)
		case "rotate":
			deg, ok := asInt(value)
			if !ok {
				c.add(field, "must be an integer")
				continue
			}
			if _, ok := allowedRotations[deg]; !ok {
				c.add(field, "must be one of 0, 90, 180, 270")
			}
		case "flip", "flop":
			if _, ok := value.(bool); !ok {
				c.add(field, "must be a boolean")
			}
		case "filters":
			validateFilters(c, field, value)
		case "format":
			s, ok := value.(string)
			if !ok {
				c.add(field, "must be a string")
				continue
			}
			if _, ok := allowedFormats[Format(s)]; !ok {
				c.add(field, "must be one of jpeg, png, webp")
			}
		default:
			c.add(field, "unsupported transformation")
		}
	}

	if len(c.errs) > 0 {
		return Spec{}, c.errs
	}

	var spec Spec
	if err := decode(raw, &spec); err != nil {
		return Spec{}, ValidationErrors{{Field: fieldRoot, Message: err.Error()}}
	}
	if spec.Format == "" {
		spec.Format = FormatJPEG
	}
	if spec.Resize != nil && spec.Resize.Fit == "" {
		spec.Resize.Fit = FitCover
	}
	return spec, nil
}

func validateResize(c *collector, field string, value any) {
	obj, ok := value.(map[string]any)
	if !ok {
		c.add(field, "must be an object")
		return
	}
	if !hasAll(obj, "width", "height") {
		c.add(field, "must include width and height")
	}
	checkInt(c, obj, field, "width", 1)
	checkInt(c, obj, field, "height", 1)

	if fit, present := obj["fit"]; present {
		s, ok := fit.(string)
		if !ok {
			c.add(field+".fit", "must be a string")
		} else if _, ok := allowedFits[Fit(s)]; !ok {
			c.add(field+".fit", "must be one of cover, contain, fill")
		}
	}
}

func validateCrop(c *collector, field string, value any) {
	obj, ok := value.(map[string]any)
	if !ok {
		c.add(field, "must be an object")
		return
	}
	if !hasAll(obj, "width", "height", "x", "y") {
		c.add(field, "must include width, height, x and y")
	}
	checkInt(c, obj, field, "width", 1)
	checkInt(c, obj, field, "height", 1)
	checkInt(c, obj, field, "x", 0)
	checkInt(c, obj, field, "y", 0)
}

func validateFilters(c *collector, field string, value any) {
	obj, ok := value.(map[string]any)
	if !ok {
		c.add(field, "must be an object")
		return
	}
	for _, name := range []string{"grayscale", "sepia"} {
		if v, present := obj[name]; present {
			if _, ok := v.(bool); !ok {
				c.add(field+"."+name, "must be a boolean")
			}
		}
	}
	if v, present := obj["blur"]; present {
		sigma, ok := asFloat(v)
		switch {
		case !ok:
			c.add(field+".blur", "must be a number")
		case sigma <= 0:
			c.add(field+".blur", "must be greater than 0")
		case sigma > MaxBlurSigma:
			c.add(field+".blur", fmt.Sprintf("must be at most %d", MaxBlurSigma))
		}
	}
}

// checkInt validates obj[key] when present; absence is reported by the
// caller's all-or-nothing check.
func checkInt(c *collector, obj map[string]any, field, key string, min int) {
	v, present := obj[key]
	if !present {
		return
	}
	n, ok := asInt(v)
	if !ok {
		c.add(field+"."+key, "must be an integer")
		return
	}
	if n < min {
		c.add(field+"."+key, fmt.Sprintf("must be at least %d", min))
	}
}

func hasAll(obj map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return false
		}
	}
	return true
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		if n > math.MaxInt32 || n < math.MinInt32 {
			return 0, false
		}
		return int(n), true
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, false
		}
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return asInt(i)
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return asInt(f)
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case float32:
		return asFloat(float64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return asFloat(f)
	}
	return 0, false
}

func decode(raw map[string]any, spec *Spec) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "mapstructure",
		Result:  spec,
		DecodeHook: func(_, _ reflect.Type, data any) (any, error) {
			if n, ok := data.(json.Number); ok {
				return n.Float64()
			}
			return data, nil
		},
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}
