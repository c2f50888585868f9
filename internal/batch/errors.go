package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/a3tai/formaudit/internal/recognition"
)

var (
	// ErrBatchFailed is returned when no document yielded a recognized page.
	ErrBatchFailed = errors.New("batch failed")
	// ErrNoDocuments is returned for an empty document set.
	ErrNoDocuments = errors.New("no documents to process")
)

// FailureKind classifies a document-level failure.
type FailureKind int

const (
	KindInternal FailureKind = iota
	KindUnsupportedFormat
	KindRecognitionFailure
	KindCanceled
)

// String returns a string representation of the FailureKind
func (k FailureKind) String() string {
	switch k {
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindRecognitionFailure:
		return "recognition_failure"
	case KindCanceled:
		return "canceled"
	default:
		return "internal"
	}
}

// MarshalText encodes the kind by name.
func (k FailureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Recoverable reports whether resubmitting the document may succeed.
func (k FailureKind) Recoverable() bool {
	switch k {
	case KindRecognitionFailure, KindCanceled:
		return true
	default:
		return false
	}
}

// DocumentFailure records a document that contributed no records.
type DocumentFailure struct {
	Index    int         `json:"index"`
	Document string      `json:"document"`
	Kind     FailureKind `json:"kind"`
	Reason   string      `json:"reason"`
	Err      error       `json:"-"`
}

func (f DocumentFailure) Error() string {
	return fmt.Sprintf("%s: %s: %s", f.Document, f.Kind, f.Reason)
}

func (f DocumentFailure) Unwrap() error { return f.Err }

// PageFailure records a page that could not be recognized in an otherwise
// successful document.
type PageFailure struct {
	Document string `json:"document"`
	Page     int    `json:"page"`
	Reason   string `json:"reason"`
}

// Classify maps an error from document processing to its FailureKind.
func Classify(err error) FailureKind {
	var unsupported *recognition.UnsupportedFormatError
	var failure *recognition.RecognitionFailure
	switch {
	case errors.As(err, &unsupported):
		return KindUnsupportedFormat
	case errors.As(err, &failure):
		return KindRecognitionFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}

func newFailure(index int, doc string, err error) DocumentFailure {
	return DocumentFailure{Index: index, Document: doc, Kind: Classify(err), Reason: err.Error(), Err: err}
}
