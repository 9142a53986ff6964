//go:build govips && cgo

package pipeline

import (
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/imagehandler/internal/domain"
	"github.com/dunamismax/imagehandler/internal/edits"
	"github.com/dunamismax/imagehandler/internal/format"
)

type govipsCodec struct{}

func (govipsCodec) Decode(data []byte, opts DecodeOptions) (Image, error) {
	params := vips.NewImportParams()
	params.FailOnError.Set(opts.FailOnError)
	if opts.Unlimited {
		params.SvgUnlimited.Set(true)
	}
	if opts.Animated {
		params.NumPages.Set(-1)
	}

	ref, err := vips.LoadImageFromBuffer(data, params)
	if err != nil {
		return nil, domain.Internal("DecodeError", fmt.Errorf("decode source image: %w", err))
	}
	return &vipsImage{ref: ref, source: vipsSourceFormat(ref.Format())}, nil
}

func vipsSourceFormat(t vips.ImageType) format.Format {
	switch t {
	case vips.ImageTypeJPEG:
		return format.JPEG
	case vips.ImageTypeWEBP:
		return format.WEBP
	case vips.ImageTypeTIFF:
		return format.TIFF
	case vips.ImageTypeGIF:
		return format.GIF
	case vips.ImageTypeSVG:
		return format.SVG
	case vips.ImageTypeHEIF:
		return format.HEIF
	default:
		return format.PNG
	}
}

type vipsImage struct {
	ref    *vips.ImageRef
	source format.Format
}

func (v *vipsImage) Size() (int, int) {
	if v.ref.Pages() > 1 {
		return v.ref.Width(), v.ref.PageHeight()
	}
	return v.ref.Width(), v.ref.Height()
}

func (v *vipsImage) Resize(g edits.Geometry) error {
	w, h := v.Size()
	if g.Resamples(w, h) {
		hscale := float64(g.ScaleWidth) / float64(w)
		vscale := float64(g.ScaleHeight) / float64(h)
		if err := v.ref.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
			return domain.Internal("ResizeError", fmt.Errorf("resize image: %w", err))
		}
	}

	// libvips rounds scaled sizes itself, so offsets come from the result.
	cw, ch := v.Size()
	switch {
	case g.Crops():
		width, height := min(g.Width, cw), min(g.Height, ch)
		left, top := (cw-width)/2, (ch-height)/2
		if err := v.ref.ExtractArea(left, top, width, height); err != nil {
			return domain.Internal("ResizeError", fmt.Errorf("crop image: %w", err))
		}
	case g.Embeds():
		left, top := max(0, (g.Width-cw)/2), max(0, (g.Height-ch)/2)
		if err := v.ref.Embed(left, top, g.Width, g.Height, vips.ExtendBlack); err != nil {
			return domain.Internal("ResizeError", fmt.Errorf("embed image: %w", err))
		}
	}
	return nil
}

func (v *vipsImage) Encode(enc Encoding) ([]byte, error) {
	out := targetOutput(enc, v.source)

	var (
		data []byte
		err  error
	)
	switch out.Format() {
	case format.JPEG:
		data, _, err = v.ref.ExportJpeg(vips.NewJpegExportParams())
	case format.PNG:
		data, _, err = v.ref.ExportPng(vips.NewPngExportParams())
	case format.WEBP:
		params := vips.NewWebpExportParams()
		if enc.Effort != nil {
			params.ReductionEffort = *enc.Effort
		}
		data, _, err = v.ref.ExportWebp(params)
	case format.TIFF:
		data, _, err = v.ref.ExportTiff(vips.NewTiffExportParams())
	case format.HEIF:
		data, _, err = v.ref.ExportHeif(vips.NewHeifExportParams())
	case format.GIF:
		data, _, err = v.ref.ExportGIF(vips.NewGifExportParams())
	case format.RAW:
		img, rerr := v.ref.ToImage(nil)
		if rerr != nil {
			return nil, domain.Internal("EncodeError", fmt.Errorf("encode raw: %w", rerr))
		}
		return rawPixels(img), nil
	default:
		return nil, domain.Internal("CodecUnavailable", fmt.Errorf("no encoder for %s", out.Codec()))
	}
	if err != nil {
		return nil, domain.Internal("EncodeError", fmt.Errorf("encode %s: %w", out.Codec(), err))
	}
	return data, nil
}

func (v *vipsImage) Close() {
	v.ref.Close()
}
