package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// previewQuality is the JPEG quality used for preview frames
const previewQuality = 80

// DecodeImage decodes a still frame. PDFs are rendered from their first page.
func DecodeImage(data []byte, contentType string) (image.Image, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))

	switch {
	case mimeType == "application/pdf":
		return pdfToImage(data)
	case isHEICFormat(data) || isHEICMimeType(mimeType):
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// ContentTypeForPath guesses a frame's MIME type from its file extension.
// Unknown extensions return an empty string.
func ContentTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return ""
	}
}

// EncodeJPEG writes img as a preview JPEG.
func EncodeJPEG(w io.Writer, img image.Image) error {
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(previewQuality)); err != nil {
		return fmt.Errorf("encoding JPEG: %w", err)
	}
	return nil
}

// FromYUYV converts a packed YUYV 4:2:2 buffer into an image.
func FromYUYV(buf []byte, width, height int) (image.Image, error) {
	if len(buf) < width*height*2 {
		return nil, fmt.Errorf("short YUYV frame: got %d bytes, want %d", len(buf), width*height*2)
	}
	yuyv := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for i := range yuyv.Cb {
		ii := i * 4
		yuyv.Y[i*2] = buf[ii]
		yuyv.Y[i*2+1] = buf[ii+2]
		yuyv.Cb[i] = buf[ii+1]
		yuyv.Cr[i] = buf[ii+3]
	}
	return yuyv, nil
}

// FromGrey converts an 8-bit greyscale buffer into an image.
func FromGrey(buf []byte, width, height int) (image.Image, error) {
	if len(buf) < width*height {
		return nil, fmt.Errorf("short GREY frame: got %d bytes, want %d", len(buf), width*height)
	}
	gray := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			gray.SetGray(x, y, color.Gray{Y: buf[y*width+x]})
		}
	}
	return gray, nil
}

// pdfToImage renders the first page of a PDF
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// isHEICFormat checks the ftyp box brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
