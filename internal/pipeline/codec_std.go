package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/imagehandler/internal/domain"
	"github.com/dunamismax/imagehandler/internal/edits"
	"github.com/dunamismax/imagehandler/internal/format"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	jpegQuality = 80
	// maxInputPixels applies when DecodeOptions.Unlimited is unset.
	maxInputPixels = 0x3FFF * 0x3FFF
	// jpegBlockPadding is enough zero bytes to complete one 8x8 block with
	// the standard Huffman tables.
	jpegBlockPadding = 32
	maxJPEGPadding   = 16 << 20
)

var errCodecUnavailable = errors.New("encoder is not available in the pure-Go build")

// stdCodec decodes with the standard library and x/image and resamples with
// imaging. It cannot encode webp or heif.
type stdCodec struct{}

func (stdCodec) Decode(data []byte, opts DecodeOptions) (Image, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, domain.Internal("DecodeError", fmt.Errorf("decode source image: %w", err))
	}
	if !opts.Unlimited && cfg.Width*cfg.Height > maxInputPixels {
		return nil, domain.Internal("DecodeError", fmt.Errorf("input image exceeds pixel limit: %dx%d", cfg.Width, cfg.Height))
	}

	out := &stdImage{source: format.Format(name)}

	if opts.Animated && name == "gif" {
		anim, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return nil, domain.Internal("DecodeError", fmt.Errorf("decode animated gif: %w", err))
		}
		out.frames = compositeFrames(anim)
		out.delays = anim.Delay
		out.loop = anim.LoopCount
		return out, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil && !opts.FailOnError && name == "jpeg" {
		if repaired, rerr := imaging.Decode(bytes.NewReader(repairJPEG(data, cfg)), imaging.AutoOrientation(true)); rerr == nil {
			img, err = repaired, nil
		}
	}
	if err != nil {
		return nil, domain.Internal("DecodeError", fmt.Errorf("decode source image: %w", err))
	}
	out.frames = []*image.NRGBA{imaging.Clone(img)}
	return out, nil
}

// repairJPEG completes a truncated scan with zero bits and an EOI marker so
// the readable rows survive. The decoder skips padding left after the last
// MCU. Restart intervals are not reconstructed.
func repairJPEG(data []byte, cfg image.Config) []byte {
	blocks := ((cfg.Width + 7) / 8) * ((cfg.Height + 7) / 8) * 3
	pad := min(blocks*jpegBlockPadding, maxJPEGPadding)

	out := make([]byte, 0, len(data)+pad+2)
	out = append(out, data...)
	out = append(out, make([]byte, pad)...)
	return append(out, 0xFF, 0xD9)
}

type stdImage struct {
	frames []*image.NRGBA
	delays []int
	loop   int
	source format.Format
}

func (s *stdImage) Size() (int, int) {
	b := s.frames[0].Bounds()
	return b.Dx(), b.Dy()
}

func (s *stdImage) Resize(g edits.Geometry) error {
	w, h := s.Size()
	for i, frame := range s.frames {
		s.frames[i] = resizeFrame(frame, w, h, g)
	}
	return nil
}

func resizeFrame(src *image.NRGBA, w, h int, g edits.Geometry) *image.NRGBA {
	out := src
	if g.Resamples(w, h) {
		out = imaging.Resize(src, g.ScaleWidth, g.ScaleHeight, imaging.Lanczos)
	}

	x, y := g.Offset()
	switch {
	case g.Crops():
		out = imaging.Crop(out, image.Rect(x, y, x+g.Width, y+g.Height))
	case g.Embeds():
		canvas := imaging.New(g.Width, g.Height, color.Black)
		out = imaging.Paste(canvas, out, image.Pt(x, y))
	}
	return out
}

func (s *stdImage) Encode(enc Encoding) ([]byte, error) {
	out := targetOutput(enc, s.source)

	var buf bytes.Buffer
	var err error
	switch out.Format() {
	case format.JPEG:
		err = imaging.Encode(&buf, s.frames[0], imaging.JPEG, imaging.JPEGQuality(jpegQuality))
	case format.PNG:
		err = imaging.Encode(&buf, s.frames[0], imaging.PNG)
	case format.TIFF:
		err = imaging.Encode(&buf, s.frames[0], imaging.TIFF)
	case format.GIF:
		if len(s.frames) > 1 {
			err = gif.EncodeAll(&buf, s.animated())
		} else {
			err = imaging.Encode(&buf, s.frames[0], imaging.GIF)
		}
	case format.RAW:
		return rawPixels(s.frames[0]), nil
	default:
		return nil, domain.Internal("CodecUnavailable", fmt.Errorf("%s: %w", out.Codec(), errCodecUnavailable))
	}
	if err != nil {
		return nil, domain.Internal("EncodeError", fmt.Errorf("encode %s: %w", out.Codec(), err))
	}
	return buf.Bytes(), nil
}

func (s *stdImage) Close() {
	s.frames = nil
}

func (s *stdImage) animated() *gif.GIF {
	out := &gif.GIF{LoopCount: s.loop}
	for i, frame := range s.frames {
		p := image.NewPaletted(frame.Bounds(), palette.Plan9)
		draw.FloydSteinberg.Draw(p, p.Bounds(), frame, image.Point{})
		out.Image = append(out.Image, p)
		delay := 0
		if i < len(s.delays) {
			delay = s.delays[i]
		}
		out.Delay = append(out.Delay, delay)
	}
	return out
}

// compositeFrames renders each frame of g over the frames before it, so every
// returned frame is a complete picture.
func compositeFrames(g *gif.GIF) []*image.NRGBA {
	w, h := g.Config.Width, g.Config.Height
	if w == 0 || h == 0 {
		b := g.Image[0].Bounds()
		w, h = b.Max.X, b.Max.Y
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, w, h))
	frames := make([]*image.NRGBA, 0, len(g.Image))
	for i, frame := range g.Image {
		previous := imaging.Clone(canvas)
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		frames = append(frames, imaging.Clone(canvas))

		if i >= len(g.Disposal) {
			continue
		}
		switch g.Disposal[i] {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}
	return frames
}
