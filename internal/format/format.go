// Package format names the image encodings the handler understands and
// recognises them from their leading bytes.
package format

import (
	"encoding/hex"
	"strings"

	"github.com/dunamismax/imagehandler/internal/domain"
)

type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	WEBP Format = "webp"
	TIFF Format = "tiff"
	GIF  Format = "gif"
	SVG  Format = "svg"
	RAW  Format = "raw"
	HEIF Format = "heif"
)

const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
	ContentTypeWEBP = "image/webp"
	ContentTypeTIFF = "image/tiff"
	ContentTypeGIF  = "image/gif"
	ContentTypeSVG  = "image/svg+xml"
	ContentTypeHEIF = "image/heif"
	ContentTypeRAW  = "application/octet-stream"
)

var contentTypes = map[Format]string{
	JPEG: ContentTypeJPEG,
	PNG:  ContentTypePNG,
	WEBP: ContentTypeWEBP,
	TIFF: ContentTypeTIFF,
	GIF:  ContentTypeGIF,
	SVG:  ContentTypeSVG,
	HEIF: ContentTypeHEIF,
	RAW:  ContentTypeRAW,
}

func (f Format) ContentType() string {
	return contentTypes[f]
}

// FromContentType maps a MIME type back to a format. Parameters such as
// charset are ignored.
func FromContentType(contentType string) (Format, bool) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	for f, ct := range contentTypes {
		if ct == contentType && f != RAW {
			return f, true
		}
	}
	if contentType == "image/jpg" {
		return JPEG, true
	}
	return "", false
}

// signatures is keyed by the first four bytes as uppercase hex.
var signatures = map[string]Format{
	"89504E47": PNG,
	"FFD8FFDB": JPEG,
	"FFD8FFE0": JPEG,
	"FFD8FFED": JPEG,
	"FFD8FFEE": JPEG,
	"FFD8FFE1": JPEG,
	"52494646": WEBP,
	"49492A00": TIFF,
	"4D4D002A": TIFF,
	"47494638": GIF,
}

// Sniff infers the encoding of data from its first four bytes.
func Sniff(data []byte) (Format, error) {
	if len(data) < 4 {
		return "", domain.UnknownFormat()
	}
	sig := strings.ToUpper(hex.EncodeToString(data[:4]))
	f, ok := signatures[sig]
	if !ok {
		return "", domain.UnknownFormat()
	}
	return f, nil
}

func SniffContentType(data []byte) (string, error) {
	f, err := Sniff(data)
	if err != nil {
		return "", err
	}
	return f.ContentType(), nil
}
