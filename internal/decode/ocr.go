package decode

import (
	"context"
	"image"
	"time"

	"github.com/zombor/asset-scanner/internal/serial"
)

// TextReader reads printed text from an image
type TextReader interface {
	ReadText(img image.Image) (string, error)
	Close() error
}

// OCR reads serial labels printed as plain text. It reports the first
// serial-shaped window found in the recognised text.
type OCR struct {
	reader TextReader
	now    func() time.Time
}

// NewOCR creates a new OCR backend. A nil reader is unavailable.
func NewOCR(reader TextReader) *OCR {
	return &OCR{reader: reader, now: time.Now}
}

// Attempt reads img and extracts the first serial candidate.
func (o *OCR) Attempt(ctx context.Context, img image.Image) (Result, bool, error) {
	if o == nil || o.reader == nil {
		return Result{}, false, ErrBackendUnavailable
	}
	if err := ctx.Err(); err != nil {
		return Result{}, false, err
	}

	text, err := o.reader.ReadText(img)
	if err != nil {
		return Result{}, false, err
	}
	candidates := serial.ExtractCandidates(text)
	if len(candidates) == 0 {
		return Result{}, false, nil
	}
	return Result{
		Payload:   candidates[0],
		Source:    SourceOCR,
		Symbology: "TEXT",
		Timestamp: o.now(),
	}, true, nil
}

// Close releases the underlying reader.
func (o *OCR) Close() error {
	if o == nil || o.reader == nil {
		return nil
	}
	return o.reader.Close()
}
