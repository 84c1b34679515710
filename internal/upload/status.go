package upload

import (
	"strconv"
	"time"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/port"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/workflow"
)

// File is one uploaded document
type File struct {
	Name string
	Data []byte
}

// PageResult records what happened to one page
type PageResult struct {
	Number   int               `json:"number"`
	SourceID string            `json:"source_id"`
	Kind     port.DocumentKind `json:"kind,omitempty"`
	Fields   int               `json:"fields"`
	Applied  bool              `json:"applied"`
}

// Status is a snapshot of one upload
type Status struct {
	SourceID    string                `json:"source_id"`
	FileName    string                `json:"file_name"`
	ContentType string                `json:"content_type"`
	Size        int                   `json:"size"`
	State       workflow.State        `json:"state"`
	Pages       []PageResult          `json:"pages"`
	Error       string                `json:"error,omitempty"`
	StoredPath  string                `json:"stored_path,omitempty"`
	SubmittedAt time.Time             `json:"submitted_at"`
	FinishedAt  *time.Time            `json:"finished_at,omitempty"`
	History     []workflow.Transition `json:"history"`
}

// PageSourceID names the update event of one page
func PageSourceID(sourceID string, page int) string {
	return sourceID + "#p" + strconv.Itoa(page)
}
