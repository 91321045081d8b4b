// Package media prepares downloaded attachments for document analysis.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
)

var (
	// ErrEmptyMedia is returned for zero-length attachments.
	ErrEmptyMedia = errors.New("media is empty")

	// ErrMediaTooLarge is returned when an attachment exceeds the configured size.
	ErrMediaTooLarge = errors.New("media exceeds maximum size")

	// ErrUnsupportedMedia is returned for content that is neither an image nor a PDF.
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

// Options controls Prepare.
type Options struct {
	// MaxBytes rejects larger inputs. Zero disables the check.
	MaxBytes int64

	// MaxDimension bounds the longer image side in pixels. Zero keeps the original size.
	MaxDimension int

	// JPEGQuality is used when re-encoding images. Defaults to 90.
	JPEGQuality int
}

// Prepared is a document ready to be sent for analysis.
type Prepared struct {
	Content  []byte
	MIMEType string
	Width    int // Zero for non-image documents
	Height   int
	Resized  bool
}

// DetectMIME returns the declared MIME type when it is specific, otherwise
// sniffs the content. Parameters such as "; charset=" are dropped.
func DetectMIME(content []byte, declared string) string {
	declared = strings.TrimSpace(strings.ToLower(strings.SplitN(declared, ";", 2)[0]))
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return strings.SplitN(http.DetectContentType(content), ";", 2)[0]
}

// Prepare validates the attachment and normalizes images to an upright JPEG
// no larger than MaxDimension. PDFs pass through unchanged.
func Prepare(content []byte, declaredMIME string, opts Options) (*Prepared, error) {
	const op = "Prepare"

	if len(content) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyMedia)
	}
	if opts.MaxBytes > 0 && int64(len(content)) > opts.MaxBytes {
		return nil, fmt.Errorf("%s: %d bytes: %w", op, len(content), ErrMediaTooLarge)
	}

	mimeType := DetectMIME(content, declaredMIME)
	switch {
	case mimeType == "application/pdf":
		return &Prepared{Content: content, MIMEType: mimeType}, nil
	case !strings.HasPrefix(mimeType, "image/"):
		return nil, fmt.Errorf("%s: %s: %w", op, mimeType, ErrUnsupportedMedia)
	}

	img, err := imaging.Decode(bytes.NewReader(content), imaging.AutoOrientation(true))
	if err != nil {
		// Formats the decoder does not know (webp, heic) are left for the analyzer
		return &Prepared{Content: content, MIMEType: mimeType}, nil
	}

	bounds := img.Bounds()
	prepared := &Prepared{Width: bounds.Dx(), Height: bounds.Dy()}

	if opts.MaxDimension > 0 && (bounds.Dx() > opts.MaxDimension || bounds.Dy() > opts.MaxDimension) {
		img = imaging.Fit(img, opts.MaxDimension, opts.MaxDimension, imaging.Lanczos)
		prepared.Width = img.Bounds().Dx()
		prepared.Height = img.Bounds().Dy()
		prepared.Resized = true
	}

	quality := opts.JPEGQuality
	if quality <= 0 {
		quality = 90
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("%s: failed to encode JPEG: %w", op, err)
	}

	prepared.Content = buf.Bytes()
	prepared.MIMEType = "image/jpeg"
	return prepared, nil
}
