package decode

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

const probePayload = "PROBE-ASSET-SCANNER"

// ZXingQR decodes QR codes with gozxing
type ZXingQR struct {
	mu     sync.Mutex
	reader gozxing.Reader
}

// NewZXingQR creates a new ZXingQR
func NewZXingQR() *ZXingQR {
	return &ZXingQR{reader: qrcode.NewQRCodeReader()}
}

// Decode returns the QR payload in img, if any.
func (z *ZXingQR) Decode(img image.Image) (string, bool) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false
	}

	z.mu.Lock()
	defer z.mu.Unlock()
	result, err := z.reader.Decode(bmp, nil)
	if err != nil || result == nil {
		return "", false
	}
	return result.GetText(), true
}

// Detection is one code found by a Detector
type Detection struct {
	Payload   string
	Symbology string
}

// Detector is a multi-symbology detector that works on whole frames
type Detector interface {
	// Probe reports whether the detector works on this host.
	Probe(ctx context.Context) error
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// ZXingMulti detects common 1-D symbologies and QR codes
type ZXingMulti struct {
	mu      sync.Mutex
	readers []gozxing.Reader
	hints   map[gozxing.DecodeHintType]interface{}
}

// NewZXingMulti creates a detector for Code 128, Code 39, EAN-13, EAN-8,
// UPC-A, UPC-E, ITF and QR.
func NewZXingMulti() *ZXingMulti {
	return &ZXingMulti{
		readers: []gozxing.Reader{
			oned.NewCode128Reader(),
			oned.NewCode39Reader(),
			oned.NewEAN13Reader(),
			oned.NewEAN8Reader(),
			oned.NewUPCAReader(),
			oned.NewUPCEReader(),
			oned.NewITFReader(),
			qrcode.NewQRCodeReader(),
		},
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// Probe decodes a generated QR code to confirm the readers work.
func (z *ZXingMulti) Probe(ctx context.Context) error {
	matrix, err := qrcode.NewQRCodeWriter().Encode(probePayload, gozxing.BarcodeFormat_QR_CODE, 120, 120, nil)
	if err != nil {
		return fmt.Errorf("%w: encoding probe: %v", ErrBackendUnavailable, err)
	}
	found, err := z.Detect(ctx, matrix)
	if err != nil {
		return err
	}
	for _, d := range found {
		if d.Payload == probePayload {
			return nil
		}
	}
	return fmt.Errorf("%w: probe code not detected", ErrBackendUnavailable)
}

// Detect returns the first code any reader finds in img.
func (z *ZXingMulti) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("creating bitmap: %w", err)
	}

	z.mu.Lock()
	defer z.mu.Unlock()
	for _, reader := range z.readers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := reader.Decode(bmp, z.hints)
		if err != nil || result == nil {
			continue
		}
		return []Detection{{
			Payload:   result.GetText(),
			Symbology: result.GetBarcodeFormat().String(),
		}}, nil
	}
	return nil, nil
}

// NoDetector stands in when no native detector is configured
type NoDetector struct{}

func (NoDetector) Probe(ctx context.Context) error {
	return ErrBackendUnavailable
}

func (NoDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	return nil, ErrBackendUnavailable
}
