package recognition

import "fmt"

// DocumentPage marks a RecognitionFailure that covers the whole document.
const DocumentPage = -1

// UnsupportedFormatError is returned when a document is neither a decodable
// raster image nor a readable PDF.
type UnsupportedFormatError struct {
	Document string
	Reason   string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format for %s: %s", e.Document, e.Reason)
}

// RecognitionFailure is returned when the OCR engine cannot process a page,
// or, with Page set to DocumentPage, when no page of a document could be
// recognized.
type RecognitionFailure struct {
	Document string
	Page     int
	Err      error
}

func (e *RecognitionFailure) Error() string {
	if e.Page == DocumentPage {
		return fmt.Sprintf("recognition failed for %s: %v", e.Document, e.Err)
	}
	return fmt.Sprintf("recognition failed for %s page %d: %v", e.Document, e.Page+1, e.Err)
}

func (e *RecognitionFailure) Unwrap() error { return e.Err }
