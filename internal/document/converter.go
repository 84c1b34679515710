package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/port"
	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

const (
	MimePDF  = "application/pdf"
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeWebP = "image/webp"
)

var (
	// ErrEmptyFile is returned for zero-length uploads
	ErrEmptyFile = errors.New("file is empty")

	// ErrFileTooLarge is returned when an upload exceeds the size limit
	ErrFileTooLarge = errors.New("file too large")

	// ErrUnsupportedType is returned for content types other than PDF, JPEG, PNG and WebP
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrNoPages is returned when a PDF yields no renderable page
	ErrNoPages = errors.New("document has no pages")
)

var supportedTypes = map[string]bool{
	MimePDF:  true,
	MimeJPEG: true,
	MimePNG:  true,
	MimeWebP: true,
}

// Options configures the converter
type Options struct {
	MaxFileSize int64
	MaxPages    int
	DPI         float64
	JPEGQuality int
}

// DefaultOptions returns 10 MB, 5 pages, 150 dpi and quality 85
func DefaultOptions() Options {
	return Options{
		MaxFileSize: 10 << 20,
		MaxPages:    5,
		DPI:         150,
		JPEGQuality: 85,
	}
}

// Converter renders PDFs to JPEG pages with mupdf and passes images through
type Converter struct {
	opts   Options
	logger *zap.Logger
}

// NewConverter creates a converter; zero option values fall back to the defaults
func NewConverter(opts Options, logger *zap.Logger) *Converter {
	def := DefaultOptions()
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = def.MaxFileSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = def.MaxPages
	}
	if opts.DPI <= 0 {
		opts.DPI = def.DPI
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = def.JPEGQuality
	}
	return &Converter{opts: opts, logger: logger}
}

// DetectType sniffs the content type of an upload
func DetectType(data []byte) string {
	ct := http.DetectContentType(data)
	if i := bytes.IndexByte([]byte(ct), ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}

// Validate checks size and content type and returns the detected type
func (c *Converter) Validate(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if int64(len(data)) > c.opts.MaxFileSize {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(data), c.opts.MaxFileSize)
	}
	ct := DetectType(data)
	if !supportedTypes[ct] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ct)
	}
	return ct, nil
}

// Convert returns one page per image, or one JPEG per PDF page up to MaxPages
func (c *Converter) Convert(ctx context.Context, fileName string, data []byte) ([]port.Page, error) {
	ct, err := c.Validate(data)
	if err != nil {
		return nil, err
	}

	if ct != MimePDF {
		return []port.Page{{Number: 1, MimeType: ct, Data: data}}, nil
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	limit := total
	if limit > c.opts.MaxPages {
		c.logger.Warn("Truncating PDF pages",
			zap.String("file", fileName),
			zap.Int("total_pages", total),
			zap.Int("max_pages", c.opts.MaxPages))
		limit = c.opts.MaxPages
	}

	pages := make([]port.Page, 0, limit)
	for n := 0; n < limit; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := doc.ImageDPI(n, c.opts.DPI)
		if err != nil {
			c.logger.Warn("Failed to render page",
				zap.String("file", fileName),
				zap.Int("page", n+1),
				zap.Error(err))
			continue
		}

		encoded, err := c.encodeJPEG(img)
		if err != nil {
			c.logger.Warn("Failed to encode page to JPEG",
				zap.String("file", fileName),
				zap.Int("page", n+1),
				zap.Error(err))
			continue
		}

		pages = append(pages, port.Page{Number: n + 1, MimeType: MimeJPEG, Data: encoded})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPages, fileName)
	}

	c.logger.Debug("Converted PDF",
		zap.String("file", fileName),
		zap.Int("pages", len(pages)))

	return pages, nil
}

func (c *Converter) encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.opts.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}
