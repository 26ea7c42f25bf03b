package domain

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	DecodeSubjectToken = "token"
	DecodeSubjectImage = "image"
)

// DecodeError reports a malformed transform token or an unsupported image container.
type DecodeError struct {
	Subject string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Subject, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func NewTokenError(err error) error {
	return &DecodeError{Subject: DecodeSubjectToken, Err: err}
}

func NewImageDecodeError(err error) error {
	return &DecodeError{Subject: DecodeSubjectImage, Err: err}
}

// FetchError reports a failure retrieving source bytes. Status is the upstream
// HTTP status when one was received.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status=%d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ClientFault reports whether the failure is attributable to the caller's source URL.
func (e *FetchError) ClientFault() bool {
	if errors.Is(e.Err, ErrInvalidSource) {
		return true
	}
	return e.Status >= http.StatusBadRequest && e.Status < http.StatusInternalServerError
}

var ErrInvalidSource = errors.New("invalid source url")

// TransformError reports an op the engine could not apply or an output it could not encode.
type TransformError struct {
	Op  string
	Err error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %v", e.Op, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }
