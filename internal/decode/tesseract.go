//go:build tesseract

package decode

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// serialWhitelist limits recognition to characters that can appear in a serial
const serialWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Tesseract reads text with the Tesseract engine
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseract creates a Tesseract reader for the given language
func NewTesseract(language string) (*Tesseract, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage(language); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: setting language: %v", ErrBackendUnavailable, err)
	}
	if err := client.SetWhitelist(serialWhitelist); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: setting whitelist: %v", ErrBackendUnavailable, err)
	}
	return &Tesseract{client: client}, nil
}

// ReadText returns the text Tesseract recognises in img.
func (t *Tesseract) ReadText(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encoding PNG: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("setting image: %w", err)
	}
	text, err := t.client.Text()
	if err != nil {
		return "", fmt.Errorf("extracting text: %w", err)
	}
	return text, nil
}

func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}
