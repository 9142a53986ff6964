package domain

const (
	ContentTypeGeneric     = "image"
	DefaultCacheControl    = "max-age=31536000,public"
	ContentTypeOctetStream = "application/octet-stream"
	ContentTypeBinaryOctet = "binary/octet-stream"
)

// OriginalImageInfo is the source object as fetched from the store. Expires
// and LastModified are HTTP-date strings and empty when the store had none.
type OriginalImageInfo struct {
	ContentType   string
	Expires       string
	LastModified  string
	CacheControl  string
	OriginalImage []byte
}

func IsOctetStream(contentType string) bool {
	return contentType == ContentTypeOctetStream || contentType == ContentTypeBinaryOctet
}
