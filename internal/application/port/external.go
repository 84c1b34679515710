package port

import (
	"context"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/event"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/receipt"
)

// DocumentKind is what a classified page shows
type DocumentKind string

const (
	DocumentInvoice     DocumentKind = "invoice"
	DocumentPaymentSlip DocumentKind = "payment_slip"
	DocumentCombined    DocumentKind = "combined"
)

// String returns the string representation of the kind
func (k DocumentKind) String() string {
	return string(k)
}

// Fields lists the fields an extractor should look for on this kind of page
func (k DocumentKind) Fields() []receipt.Field {
	switch k {
	case DocumentInvoice:
		return []receipt.Field{
			receipt.FieldRestaurantName,
			receipt.FieldRestaurantAddress,
			receipt.FieldDate,
			receipt.FieldGrossInvoiceAmount,
			receipt.FieldInvoiceVat,
			receipt.FieldInvoiceNet,
		}
	case DocumentPaymentSlip:
		return []receipt.Field{
			receipt.FieldRestaurantName,
			receipt.FieldDate,
			receipt.FieldCardOrCashAmount,
			receipt.FieldPaymentMethod,
		}
	default:
		return []receipt.Field{
			receipt.FieldRestaurantName,
			receipt.FieldRestaurantAddress,
			receipt.FieldDate,
			receipt.FieldGrossInvoiceAmount,
			receipt.FieldInvoiceVat,
			receipt.FieldInvoiceNet,
			receipt.FieldCardOrCashAmount,
			receipt.FieldPaymentMethod,
		}
	}
}

// Page is one image handed to classification and extraction
type Page struct {
	Number   int
	MimeType string
	Data     []byte
}

// Classification is the result of classifying one page
type Classification struct {
	Kind       DocumentKind
	Confidence float64
	Reason     string
}

// DocumentConverter turns an uploaded file into page images
type DocumentConverter interface {
	// Validate checks size and content type and returns the content type
	Validate(data []byte) (string, error)
	Convert(ctx context.Context, fileName string, data []byte) ([]Page, error)
}

// UploadArchiver keeps the original of an accepted upload
type UploadArchiver interface {
	Archive(ctx context.Context, sessionID, sourceID, fileName string, data []byte) (string, error)
}

// DocumentClassifier decides which kind of document a page shows
type DocumentClassifier interface {
	Classify(ctx context.Context, page Page) (*Classification, error)
}

// FieldExtractor reads a partial field map from one page. Values are locale
// formatted strings; fields not found are absent.
type FieldExtractor interface {
	Extract(ctx context.Context, page Page, kind DocumentKind) (event.PartialFieldMap, error)
}
