package decode

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"time"
)

// ErrBackendUnavailable means a decode capability is absent on this host.
// The scheduler keeps running the remaining backends.
var ErrBackendUnavailable = errors.New("decode backend unavailable")

// Source identifies the backend that produced a Result
type Source string

const (
	SourceCanvas     Source = "canvas"
	SourceHardware   Source = "hardware"
	SourceContinuous Source = "continuous"
	SourceOCR        Source = "ocr"
)

// ParseSource validates a backend name
func ParseSource(s string) (Source, error) {
	switch Source(strings.TrimSpace(s)) {
	case SourceCanvas, SourceHardware, SourceContinuous, SourceOCR:
		return Source(strings.TrimSpace(s)), nil
	default:
		return "", fmt.Errorf("unknown decode backend %q", s)
	}
}

// ParsePriority parses a comma separated backend list such as "canvas,hardware".
func ParsePriority(s string) ([]Source, error) {
	var out []Source
	seen := make(map[Source]struct{})
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		src, err := ParseSource(part)
		if err != nil {
			return nil, err
		}
		if src == SourceContinuous {
			return nil, fmt.Errorf("%s is not tick driven", src)
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	if len(out) == 0 {
		return nil, errors.New("empty backend priority list")
	}
	return out, nil
}

// Result is a single detection. It is never modified after creation.
type Result struct {
	Payload   string    `json:"payload"`
	Source    Source    `json:"source"`
	Symbology string    `json:"symbology,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FrameSource is a live video feed
type FrameSource interface {
	Frame() (image.Image, error)
}

// QRDecoder decodes a QR code from a still image
type QRDecoder interface {
	Decode(img image.Image) (string, bool)
}
