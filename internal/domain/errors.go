package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every failure surfaced by the pipeline matches exactly one of
// these with errors.Is.
var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidEdit             = errors.New("invalid edit")
	ErrUnsupportedOutputFormat = errors.New("unsupported output format")
	ErrUnknownFormat           = errors.New("unknown image format")
	ErrInternal                = errors.New("internal error")
)

// Error carries a kind, a short machine code and a client-facing message.
type Error struct {
	Kind    error
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func NotFound(code, message string) *Error {
	return &Error{Kind: ErrNotFound, Code: code, Message: message}
}

func InvalidEdit(format string, args ...any) *Error {
	return &Error{Kind: ErrInvalidEdit, Code: "InvalidEdit", Message: fmt.Sprintf(format, args...)}
}

func UnsupportedOutputFormat(name string) *Error {
	return &Error{
		Kind:    ErrUnsupportedOutputFormat,
		Code:    "UnsupportedOutputImageFormatException",
		Message: fmt.Sprintf("Format to %s not supported", name),
	}
}

func UnknownFormat() *Error {
	return &Error{
		Kind: ErrUnknownFormat,
		Code: "RequestTypeError",
		Message: "The file does not have an extension and the file type could not be inferred. " +
			"Please ensure that your original image is of a supported file type (jpg, png, tiff, webp, svg). " +
			"Refer to the documentation for additional guidance on forming image requests.",
	}
}

func Internal(code string, err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: ErrInternal, Code: code, Message: msg, Err: err}
}

// AsInternal leaves classified errors untouched and wraps everything else as
// an internal error with the given code.
func AsInternal(code string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return Internal(code, err)
}

// CodeOf returns the machine code of a classified error, or "InternalError".
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}
	return "InternalError"
}

// MessageOf returns the client-facing message of err.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// StatusCode maps an error to an HTTP status. Missing sources are 404 and
// everything else is 500 unless strict is set, in which case malformed client
// input is reported as 400.
func StatusCode(err error, strict bool) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case strict && (errors.Is(err, ErrInvalidEdit) || errors.Is(err, ErrUnsupportedOutputFormat)):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
