// Package edits parses and normalizes the transform edits requested for an
// image.
package edits

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dunamismax/imagehandler/internal/domain"
)

type FitPolicy string

const (
	FitInside  FitPolicy = "inside"
	FitCover   FitPolicy = "cover"
	FitContain FitPolicy = "contain"
	FitOutside FitPolicy = "outside"
	FitFill    FitPolicy = "fill"
)

func ParseFit(name string) (FitPolicy, error) {
	switch f := FitPolicy(strings.ToLower(strings.TrimSpace(name))); f {
	case FitInside, FitCover, FitContain, FitOutside, FitFill:
		return f, nil
	default:
		return "", domain.InvalidEdit("fit %q is not one of inside, cover, contain, outside, fill", name)
	}
}

// ResizeEdit holds resize parameters as they arrived with the request. Empty
// strings are absent parameters.
type ResizeEdit struct {
	Width  string
	Height string
	Ratio  string
	Fit    FitPolicy
}

// EditSet maps edit names to their parameters. Resize is the only edit.
type EditSet struct {
	Resize *ResizeEdit
}

func (s *EditSet) Len() int {
	if s == nil {
		return 0
	}
	n := 0
	if s.Resize != nil {
		n++
	}
	return n
}

func (s *EditSet) Empty() bool {
	return s.Len() == 0
}

// String renders the set back into its path token form.
func (s *EditSet) String() string {
	if s == nil || s.Resize == nil {
		return ""
	}
	return s.Resize.Width + "X" + s.Resize.Height
}

var tokenSeparator = regexp.MustCompile(`(?i)x`)

// ParseToken splits a "<width>X<height>" path segment. Either side may be
// missing; an empty token means no resize edit at all.
func ParseToken(token string) *EditSet {
	if token == "" {
		return nil
	}
	parts := tokenSeparator.Split(token, -1)
	resize := &ResizeEdit{Width: parts[0], Fit: FitInside}
	if len(parts) > 1 {
		resize.Height = parts[1]
	}
	return &EditSet{Resize: resize}
}

// Options are resize parameters supplied outside the path token.
type Options struct {
	Fit   string
	Ratio string
}

// Build parses token and layers opts on top of it.
func Build(token string, opts Options) (*EditSet, error) {
	set := ParseToken(token)
	fit := strings.TrimSpace(opts.Fit)
	ratio := strings.TrimSpace(opts.Ratio)
	if fit == "" && ratio == "" {
		return set, nil
	}
	if set == nil {
		set = &EditSet{Resize: &ResizeEdit{Fit: FitInside}}
	}
	if fit != "" {
		f, err := ParseFit(fit)
		if err != nil {
			return nil, err
		}
		set.Resize.Fit = f
	}
	set.Resize.Ratio = ratio
	return set, nil
}

// Resize is a normalized resize. A nil dimension is derived from the source
// aspect ratio; Fit is always set.
type Resize struct {
	Width  *int
	Height *int
	Fit    FitPolicy
}

// SizeFunc reports the intrinsic size of the decoded source image.
type SizeFunc func() (width, height int, err error)

// ResolveResize normalizes edit. A ratio is folded into explicit dimensions,
// taken from the edit when both are given and from size otherwise.
func ResolveResize(edit *ResizeEdit, size SizeFunc) (Resize, error) {
	if edit == nil {
		return Resize{Fit: FitInside}, nil
	}

	out := Resize{Fit: edit.Fit}
	if out.Fit == "" {
		out.Fit = FitInside
	}

	var err error
	if out.Width, err = parseDimension("width", edit.Width); err != nil {
		return Resize{}, err
	}
	if out.Height, err = parseDimension("height", edit.Height); err != nil {
		return Resize{}, err
	}

	if edit.Ratio == "" {
		return out, nil
	}

	ratio, err := parseNumber("ratio", edit.Ratio)
	if err != nil {
		return Resize{}, err
	}

	var baseW, baseH float64
	if out.Width != nil && out.Height != nil {
		baseW, baseH = float64(*out.Width), float64(*out.Height)
	} else {
		if size == nil {
			return Resize{}, domain.Internal("MetadataError", errMissingSize)
		}
		w, h, err := size()
		if err != nil {
			return Resize{}, domain.AsInternal("MetadataError", err)
		}
		baseW, baseH = float64(w), float64(h)
	}

	w := dimension(baseW * ratio)
	h := dimension(baseH * ratio)
	out.Width, out.Height = &w, &h
	return out, nil
}

func parseDimension(name, raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := parseNumber(name, raw)
	if err != nil {
		return nil, err
	}
	n := dimension(v)
	return &n, nil
}

func parseNumber(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, domain.InvalidEdit("%s %q is not a number", name, raw)
	}
	return v, nil
}

// dimension rounds v and saturates it to the int32 range so oversized input
// reaches Plan as a value it can reject.
func dimension(v float64) int {
	return int(math.Max(math.MinInt32, math.Min(math.MaxInt32, round(v))))
}

// round rounds half up, so -2.5 becomes -2.
func round(v float64) float64 {
	return math.Floor(v + 0.5)
}
