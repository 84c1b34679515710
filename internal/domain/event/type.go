package event

// Type identifies a notification published after the receipt state changed
type Type string

const (
	TypeReceiptUpdated   Type = "receipt.updated"
	TypeReceiptReset     Type = "receipt.reset"
	TypeUploadApplied    Type = "upload.applied"
	TypeUploadFailed     Type = "upload.failed"
	TypeUploadCancelled  Type = "upload.cancelled"
	TypeReceiptSubmitted Type = "receipt.submitted"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeReceiptUpdated,
		TypeReceiptReset,
		TypeUploadApplied,
		TypeUploadFailed,
		TypeUploadCancelled,
		TypeReceiptSubmitted:
		return true
	default:
		return false
	}
}

// Kind tells whether an update came from OCR or from the user
type Kind string

const (
	KindExtracted  Kind = "extracted"
	KindUserEdited Kind = "userEdited"
)

// String returns the string representation of the kind
func (k Kind) String() string {
	return string(k)
}

// IsValid checks if the kind is one of the defined constants
func (k Kind) IsValid() bool {
	return k == KindExtracted || k == KindUserEdited
}
