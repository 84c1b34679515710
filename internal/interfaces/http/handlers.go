package http

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/port"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/service"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/derivation"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/event"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/receipt"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/infrastructure/persistence/repository"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/reconcile"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/session"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/upload"
	"github.com/dajor/bewirtungsbeleg-sub003/pkg/utils"
)

// UserSourceID is the source ID of edits made through the API
const UserSourceID = "user"

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// SessionManager creates, finds and ends sessions; session.Manager implements it
type SessionManager interface {
	Create() (*session.Session, error)
	Get(id string) (*session.Session, error)
	End(id string) error
	Count() int
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	sessions      SessionManager
	submissions   service.SubmissionService
	receipts      service.ReceiptService
	rules         *derivation.Rules
	maxUploadSize int64
	logger        *zap.Logger
}

// NewHandlers creates a new Handlers instance. rules may be nil, in which
// case session responses carry no deduction.
func NewHandlers(
	sessions SessionManager,
	submissions service.SubmissionService,
	receipts service.ReceiptService,
	rules *derivation.Rules,
	maxUploadSize int64,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		sessions:      sessions,
		submissions:   submissions,
		receipts:      receipts,
		rules:         rules,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Sessions  int    `json:"sessions"`
}

// SessionResponse is the rendered state of one receipt in progress
type SessionResponse struct {
	ID                     string                `json:"id"`
	CreatedAt              string                `json:"created_at"`
	LastActive             string                `json:"last_active"`
	Fields                 []reconcile.FieldView `json:"fields"`
	MissingFinancialFields []receipt.Field       `json:"missing_financial_fields"`
	Deduction              *DeductionResponse    `json:"deduction,omitempty"`
	Uploads                []upload.Status       `json:"uploads,omitempty"`
	Rejected               []string              `json:"rejected,omitempty"`
}

// DeductionResponse is the tax split rendered in the display locale
type DeductionResponse struct {
	Type          receipt.EntertainmentType `json:"type"`
	Total         string                    `json:"total"`
	Deductible    string                    `json:"deductible"`
	NonDeductible string                    `json:"non_deductible"`
	DeductibleVat string                    `json:"deductible_vat"`
}

// EditFieldsRequest carries user edits keyed by field name or German alias
type EditFieldsRequest struct {
	Fields map[string]string `json:"fields" binding:"required"`
}

// UploadResult reports one file of an upload request
type UploadResult struct {
	SourceID string `json:"source_id,omitempty"`
	FileName string `json:"file_name"`
	Error    string `json:"error,omitempty"`
}

// ListReceiptsRequest represents query parameters for listing receipts
type ListReceiptsRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
		Sessions:  h.sessions.Count(),
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    response,
	})
}

// CreateSession handles POST /api/v1/sessions
func (h *Handlers) CreateSession(c *gin.Context) {
	sess, err := h.sessions.Create()
	if err != nil {
		h.respondError(c, "Failed to create session", err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    h.toSessionResponse(sess, false),
	})
}

// GetSession handles GET /api/v1/sessions/:id
func (h *Handlers) GetSession(c *gin.Context) {
	sess, ok := h.lookupSession(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    h.toSessionResponse(sess, true),
	})
}

// EndSession handles DELETE /api/v1/sessions/:id
func (h *Handlers) EndSession(c *gin.Context) {
	id := c.Param("id")
	if !h.validID(c, id, "session") {
		return
	}

	if err := h.sessions.End(id); err != nil {
		h.respondError(c, "Failed to end session", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// ResetSession handles POST /api/v1/sessions/:id/reset
func (h *Handlers) ResetSession(c *gin.Context) {
	sess, ok := h.lookupSession(c)
	if !ok {
		return
	}

	sess.Engine().Reset()
	h.logger.Info("Receipt reset", zap.String("session_id", sess.ID))

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    h.toSessionResponse(sess, false),
	})
}

// EditFields handles PATCH /api/v1/sessions/:id/fields
func (h *Handlers) EditFields(c *gin.Context) {
	sess, ok := h.lookupSession(c)
	if !ok {
		return
	}

	var req EditFieldsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid edit request", zap.Error(err))
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	for name := range req.Fields {
		if _, ok := receipt.ParseField(name); !ok {
			h.respondError(c, "Invalid edit request", fmt.Errorf("%w: %s", receipt.ErrUnknownField, name))
			return
		}
	}

	change := sess.Engine().Merge(event.NewUpdateEvent(UserSourceID, event.KindUserEdited, req.Fields))

	unparsed := make(map[receipt.Field]bool, len(change.Rejected))
	for _, f := range change.Rejected {
		unparsed[f] = true
	}
	var rejected []string
	for name, raw := range req.Fields {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if f, _ := receipt.ParseField(name); unparsed[f] {
			rejected = append(rejected, name)
		}
	}
	sort.Strings(rejected)

	resp := h.toSessionResponse(sess, false)
	resp.Rejected = rejected

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    resp,
	})
}

// GetField handles GET /api/v1/sessions/:id/fields/:field
func (h *Handlers) GetField(c *gin.Context) {
	sess, ok := h.lookupSession(c)
	if !ok {
		return
	}

	name := c.Param("field")
	f, ok := receipt.ParseField(name)
	if !ok {
		h.respondError(c, "Invalid field", fmt.Errorf("%w: %s", receipt.ErrUnknownField, name))
		return
	}

	display, p := sess.Engine().GetField(f)
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: reconcile.FieldView{
			Field:      f,
			Label:      f.Label(),
			Display:    display,
			Provenance: p,
		},
	})
}

// Upload handles POST /api/v1/sessions/:id/uploads with one or more "file" parts
func (h *Handlers) Upload(c *gin.Context) {
	sess, ok := h.lookupSession(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil || len(form.File["file"]) == 0 {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "multipart form with at least one file part is required",
		})
		return
	}

	headers := form.File["file"]
	for _, fh := range headers {
		if h.maxUploadSize > 0 && fh.Size > h.maxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, Response{
				Success: false,
				Error:   fmt.Sprintf("file %s exceeds %d bytes", fh.Filename, h.maxUploadSize),
			})
			return
		}
	}

	results := make([]UploadResult, 0, len(headers))
	accepted := 0
	var firstErr error
	for _, fh := range headers {
		result := UploadResult{FileName: fh.Filename}

		data, err := readPart(fh)
		if err == nil {
			result.SourceID, err = sess.Uploads().Submit(c.Request.Context(), upload.File{Name: fh.Filename, Data: data})
		}
		if err != nil {
			h.logger.Warn("Upload rejected",
				zap.String("session_id", sess.ID),
				zap.String("file", fh.Filename),
				zap.Error(err))
			result.Error = err.Error()
			if firstErr == nil {
				firstErr = err
			}
		} else {
			accepted++
		}
		results = append(results, result)
	}

	if accepted == 0 {
		c.JSON(statusFor(firstErr), Response{
			Success: false,
			Data:    results,
			Error:   firstErr.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, Response{
		Success: true,
		Data:    results,
	})
}

// ListUploads handles GET /api/v1/sessions/:id/uploads
func (h *Handlers) ListUploads(c *gin.Context) {
	sess, ok := h.lookupSession(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    sess.Uploads().List(),
	})
}

// RemoveUpload handles DELETE /api/v1/sessions/:id/uploads/:source
func (h *Handlers) RemoveUpload(c *gin.Context) {
	sess, ok := h.lookupSession(c)
	if !ok {
		return
	}

	source := c.Param("source")
	if !h.validID(c, source, "upload") {
		return
	}

	if err := sess.Uploads().Remove(source); err != nil {
		h.respondError(c, "Failed to remove upload", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// Submit handles POST /api/v1/sessions/:id/submit
func (h *Handlers) Submit(c *gin.Context) {
	id := c.Param("id")
	if !h.validID(c, id, "session") {
		return
	}

	rec, err := h.submissions.Submit(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Submission failed", err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    rec,
	})
}

// ListReceipts handles GET /api/v1/receipts
func (h *Handlers) ListReceipts(c *gin.Context) {
	var req ListReceiptsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", zap.Error(err))
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid query parameters",
		})
		return
	}

	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	receipts, err := h.receipts.List(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		h.respondError(c, "Failed to list receipts", err)
		return
	}
	if receipts == nil {
		receipts = []*port.StoredReceipt{}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    receipts,
	})
}

// GetReceipt handles GET /api/v1/receipts/:id
func (h *Handlers) GetReceipt(c *gin.Context) {
	id := c.Param("id")
	if !h.validID(c, id, "receipt") {
		return
	}

	rec, err := h.receipts.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to get receipt", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    rec,
	})
}

// GetReceiptHistory handles GET /api/v1/receipts/:id/history
func (h *Handlers) GetReceiptHistory(c *gin.Context) {
	id := c.Param("id")
	if !h.validID(c, id, "receipt") {
		return
	}

	entries, err := h.receipts.History(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to get receipt history", err)
		return
	}
	if entries == nil {
		entries = []*port.HistoryEntry{}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    entries,
	})
}

// ExportReceipt handles GET /api/v1/receipts/:id/export
func (h *Handlers) ExportReceipt(c *gin.Context) {
	id := c.Param("id")
	if !h.validID(c, id, "receipt") {
		return
	}

	data, err := h.receipts.Export(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to export receipt", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, id))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// lookupSession validates the :id parameter and resolves the session.
// It writes the error response and returns false on failure.
func (h *Handlers) lookupSession(c *gin.Context) (*session.Session, bool) {
	id := c.Param("id")
	if !h.validID(c, id, "session") {
		return nil, false
	}

	sess, err := h.sessions.Get(id)
	if err != nil {
		h.respondError(c, "Session lookup failed", err)
		return nil, false
	}
	return sess, true
}

func (h *Handlers) validID(c *gin.Context, id, what string) bool {
	if err := utils.ValidateID(id); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid " + what + " ID",
		})
		return false
	}
	return true
}

func (h *Handlers) respondError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
		message = strings.ToLower(msg)
	} else {
		h.logger.Warn(msg, zap.Error(err))
	}
	_ = c.Error(err)

	c.JSON(status, Response{
		Success: false,
		Error:   message,
	})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, upload.ErrUnknownUpload),
		errors.Is(err, service.ErrNoExport):
		return http.StatusNotFound
	case errors.Is(err, receipt.ErrUnknownField):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrInvalidFile):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, receipt.ErrIncomplete):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrUploadsPending),
		errors.Is(err, upload.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, session.ErrLimitReached),
		errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) toSessionResponse(sess *session.Session, withUploads bool) SessionResponse {
	engine := sess.Engine()
	resp := SessionResponse{
		ID:                     sess.ID,
		CreatedAt:              sess.CreatedAt.UTC().Format(time.RFC3339),
		LastActive:             sess.LastActive().UTC().Format(time.RFC3339),
		Fields:                 engine.View(),
		MissingFinancialFields: engine.MissingFinancialFields(),
	}
	if withUploads {
		resp.Uploads = sess.Uploads().List()
	}

	if h.rules != nil {
		if d, err := h.rules.EntertainmentSplit(engine.Snapshot()); err == nil {
			format := engine.DisplayFormat()
			resp.Deduction = &DeductionResponse{
				Type:          d.Type,
				Total:         format.Format(d.Total),
				Deductible:    format.Format(d.Deductible),
				NonDeductible: format.Format(d.NonDeductible),
				DeductibleVat: format.Format(d.DeductibleVat),
			}
		}
	}
	return resp
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
	}
	return data, nil
}
