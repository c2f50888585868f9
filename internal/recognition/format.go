package recognition

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Format is a sniffed document format.
type Format string

const (
	FormatUnknown Format = ""
	FormatPDF     Format = "pdf"
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatGIF     Format = "gif"
	FormatTIFF    Format = "tiff"
	FormatBMP     Format = "bmp"
	FormatWebP    Format = "webp"
)

// IsImage reports whether the format is a raster image.
func (f Format) IsImage() bool {
	return f != FormatUnknown && f != FormatPDF
}

var signatures = []struct {
	format Format
	offset int
	magic  []byte
}{
	{FormatPDF, 0, []byte("%PDF-")},
	{FormatPNG, 0, []byte("\x89PNG\r\n\x1a\n")},
	{FormatJPEG, 0, []byte{0xFF, 0xD8, 0xFF}},
	{FormatGIF, 0, []byte("GIF87a")},
	{FormatGIF, 0, []byte("GIF89a")},
	{FormatTIFF, 0, []byte("II*\x00")},
	{FormatTIFF, 0, []byte("MM\x00*")},
	{FormatBMP, 0, []byte("BM")},
	{FormatWebP, 8, []byte("WEBP")},
}

// DetectFormat identifies a document by its leading bytes. File extensions
// are not consulted. PDFs are also recognized when preceded by junk within
// the first kilobyte, as many scanners emit.
func DetectFormat(data []byte) (Format, error) {
	for _, sig := range signatures {
		end := sig.offset + len(sig.magic)
		if len(data) >= end && bytes.Equal(data[sig.offset:end], sig.magic) {
			if sig.format == FormatWebP && !bytes.HasPrefix(data, []byte("RIFF")) {
				continue
			}
			return sig.format, nil
		}
	}
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if bytes.Contains(head, []byte("%PDF-")) {
		return FormatPDF, nil
	}
	return FormatUnknown, fmt.Errorf("unrecognized file signature")
}

// toPNG decodes a raster image and re-encodes it as PNG so every engine
// receives a single format. It returns the pixel dimensions.
func toPNG(data []byte) ([]byte, image.Rectangle, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), img.Bounds(), nil
}
