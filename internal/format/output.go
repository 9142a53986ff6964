package format

import (
	"strings"

	"github.com/dunamismax/imagehandler/internal/domain"
)

// OutputFormat is a target encoding a caller may request.
type OutputFormat string

const (
	OutputJPG  OutputFormat = "jpg"
	OutputJPEG OutputFormat = "jpeg"
	OutputPNG  OutputFormat = "png"
	OutputWEBP OutputFormat = "webp"
	OutputTIFF OutputFormat = "tiff"
	OutputHEIF OutputFormat = "heif"
	OutputRAW  OutputFormat = "raw"
	OutputGIF  OutputFormat = "gif"
)

// Outputs lists every requestable output format.
var Outputs = []OutputFormat{
	OutputJPG, OutputJPEG, OutputPNG, OutputWEBP, OutputTIFF, OutputHEIF, OutputRAW, OutputGIF,
}

// outputCodecs is the codec identifier and resulting encoding of every
// OutputFormat. It must cover Outputs exactly.
var outputCodecs = map[OutputFormat]struct {
	codec  string
	format Format
}{
	OutputJPG:  {"jpg", JPEG},
	OutputJPEG: {"jpeg", JPEG},
	OutputPNG:  {"png", PNG},
	OutputWEBP: {"webp", WEBP},
	OutputTIFF: {"tiff", TIFF},
	OutputHEIF: {"heif", HEIF},
	OutputRAW:  {"raw", RAW},
	OutputGIF:  {"gif", GIF},
}

// ParseOutput validates a requested output format name, case-insensitively.
func ParseOutput(name string) (OutputFormat, error) {
	o := OutputFormat(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := outputCodecs[o]; !ok {
		return "", domain.UnsupportedOutputFormat(name)
	}
	return o, nil
}

// Codec returns the codec identifier for o.
func (o OutputFormat) Codec() string {
	return outputCodecs[o].codec
}

// Format returns the encoding produced when o is requested.
func (o OutputFormat) Format() Format {
	return outputCodecs[o].format
}

func (o OutputFormat) ContentType() string {
	return o.Format().ContentType()
}

// OutputFor returns the output format that re-encodes f unchanged. SVG has no
// raster encoder and maps to PNG.
func OutputFor(f Format) OutputFormat {
	switch f {
	case JPEG:
		return OutputJPEG
	case WEBP:
		return OutputWEBP
	case TIFF:
		return OutputTIFF
	case GIF:
		return OutputGIF
	case HEIF:
		return OutputHEIF
	case RAW:
		return OutputRAW
	default:
		return OutputPNG
	}
}
