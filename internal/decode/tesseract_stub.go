//go:build !tesseract

package decode

import (
	"fmt"
	"image"
)

// Tesseract is unavailable in builds without the tesseract tag
type Tesseract struct{}

// NewTesseract reports that OCR was not compiled in.
func NewTesseract(language string) (*Tesseract, error) {
	return nil, fmt.Errorf("%w: built without tesseract support", ErrBackendUnavailable)
}

func (t *Tesseract) ReadText(img image.Image) (string, error) {
	return "", ErrBackendUnavailable
}

func (t *Tesseract) Close() error {
	return nil
}
