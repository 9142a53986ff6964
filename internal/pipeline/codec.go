package pipeline

import (
	"image"
	"image/draw"

	"github.com/dunamismax/imagehandler/internal/edits"
	"github.com/dunamismax/imagehandler/internal/format"
)

// DecodeOptions control how a source is read.
type DecodeOptions struct {
	// FailOnError aborts on malformed input instead of decoding what is
	// readable.
	FailOnError bool
	// Unlimited lifts the input pixel cap.
	Unlimited bool
	// Animated reads every frame rather than the first.
	Animated bool
}

// Encoding selects the output of Image.Encode. A nil Output keeps the source
// format.
type Encoding struct {
	Output *format.OutputFormat
	Effort *int
}

type Codec interface {
	Decode(data []byte, opts DecodeOptions) (Image, error)
}

// Image is a decoded, mutable image handle. Callers must Close it.
type Image interface {
	// Size is the size of one frame.
	Size() (width, height int)
	Resize(g edits.Geometry) error
	Encode(enc Encoding) ([]byte, error)
	Close()
}

// targetOutput resolves the format an Encoding produces for a source.
func targetOutput(enc Encoding, source format.Format) format.OutputFormat {
	if enc.Output != nil {
		return *enc.Output
	}
	return format.OutputFor(source)
}

// rawPixels returns the image as tightly packed 8-bit RGBA samples.
func rawPixels(img image.Image) []byte {
	b := img.Bounds()
	nrgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	return nrgba.Pix
}
