package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
	"github.com/finops-lab/invoiceflow/internal/domain/lifecycle"
	"github.com/finops-lab/invoiceflow/internal/extract"
	"github.com/finops-lab/invoiceflow/internal/pipeline"
	"github.com/finops-lab/invoiceflow/internal/protocol"
	"github.com/finops-lab/invoiceflow/internal/report"
	"github.com/finops-lab/invoiceflow/internal/repository"
	"github.com/finops-lab/invoiceflow/internal/store"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	store     *store.Store
	pipeline  *pipeline.Pipeline
	vendors   *repository.VendorRepository
	inventory *repository.InventoryRepository
	extractor *extract.Extractor
	reports   *report.PaymentRunWriter
	uploadDir string
	maxUpload int64
	logger    *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	st *store.Store,
	pl *pipeline.Pipeline,
	vendors *repository.VendorRepository,
	inventory *repository.InventoryRepository,
	extractor *extract.Extractor,
	reports *report.PaymentRunWriter,
	uploadDir string,
	maxUploadBytes int64,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		store:     st,
		pipeline:  pl,
		vendors:   vendors,
		inventory: inventory,
		extractor: extractor,
		reports:   reports,
		uploadDir: uploadDir,
		maxUpload: maxUploadBytes,
		logger:    logger,
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
}

// UploadResponse describes a stored invoice file awaiting processing
type UploadResponse struct {
	InvoiceID string `json:"invoice_id"`
	Filename  string `json:"filename"`
	FilePath  string `json:"file_path"`
	FileSize  int64  `json:"file_size"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	NextStep  string `json:"next_step"`
}

// InvoiceEnvelope pairs an invoice with the bucket it currently sits in
type InvoiceEnvelope struct {
	Bucket  string          `json:"bucket"`
	Invoice *entity.Invoice `json:"invoice"`
}

// RejectRequest carries a human rejection
type RejectRequest struct {
	Reason string `json:"reason"`
}

// ScheduleRequest carries an optional payment date in YYYY-MM-DD form
type ScheduleRequest struct {
	Date string `json:"date"`
}

// PaymentMethodRequest carries a payment method update
type PaymentMethodRequest struct {
	Method string `json:"method" binding:"required"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, format string, args ...interface{}) {
	c.JSON(status, Response{Success: false, Error: fmt.Sprintf(format, args...)})
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	ok(c, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	})
}

// UploadPDF handles POST /api/invoices/upload-pdf. The file is stored on
// disk and assigned an invoice id; processing happens later over the
// /ws/process socket with the stored path as the raw invoice.
func (h *Handlers) UploadPDF(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "missing file field: %v", err)
		return
	}
	if file.Filename == "" {
		fail(c, http.StatusBadRequest, "no filename provided")
		return
	}
	if !strings.HasSuffix(strings.ToLower(file.Filename), ".pdf") {
		fail(c, http.StatusBadRequest, "file must be a PDF, received %s", file.Filename)
		return
	}
	if file.Size > h.maxUpload {
		fail(c, http.StatusBadRequest, "file too large: %.1fMB (max %dMB)",
			float64(file.Size)/(1024*1024), h.maxUpload/(1024*1024))
		return
	}

	invoiceID := "pdf-" + strings.ToLower(uuid.NewString()[:8])
	safeName := invoiceID + "_" + strings.ReplaceAll(filepath.Base(file.Filename), " ", "_")
	dest := filepath.Join(h.uploadDir, safeName)

	if err := c.SaveUploadedFile(file, dest); err != nil {
		h.logger.Error("failed to store upload", zap.String("path", dest), zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to store file")
		return
	}

	h.logger.Info("invoice file uploaded",
		zap.String("invoice_id", invoiceID),
		zap.String("filename", file.Filename),
		zap.Int64("size", file.Size),
	)

	ok(c, UploadResponse{
		InvoiceID: invoiceID,
		Filename:  file.Filename,
		FilePath:  dest,
		FileSize:  file.Size,
		Status:    "uploaded",
		Message:   "PDF uploaded. Use the /ws/process socket to run ingestion.",
		NextStep:  fmt.Sprintf(`send {"raw_invoice": %q, "invoice_id": %q}`, dest, invoiceID),
	})
}

// ServeFile handles GET /api/files/:name, streaming a stored PDF with an
// inline disposition so browsers render it instead of downloading.
func (h *Handlers) ServeFile(c *gin.Context) {
	name := filepath.Base(c.Param("name"))
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		fail(c, http.StatusBadRequest, "only PDF files can be served")
		return
	}
	path := filepath.Join(h.uploadDir, name)
	if _, err := os.Stat(path); err != nil {
		fail(c, http.StatusNotFound, "file not found: %s", name)
		return
	}
	c.Header("Content-Disposition", "inline")
	c.Header("Cache-Control", "public, max-age=3600")
	c.File(path)
}

// GetInvoiceDocument handles GET /api/invoices/:id/document. The stored
// source PDF is served when it still exists; otherwise the handler
// degrades to a textual rendering reconstructed from the structured
// fields so the viewer is never blank.
func (h *Handlers) GetInvoiceDocument(c *gin.Context) {
	id := c.Param("id")
	inv, _, found := h.store.Lookup(id)
	if !found {
		fail(c, http.StatusNotFound, "invoice %s not found", id)
		return
	}

	if inv.SourcePath != "" {
		if _, err := os.Stat(inv.SourcePath); err == nil {
			c.Header("Content-Disposition", "inline")
			c.File(inv.SourcePath)
			return
		}
		h.logger.Warn("stored document missing, serving fallback rendering",
			zap.String("invoice_id", id),
			zap.String("path", inv.SourcePath),
		)
	}

	c.String(http.StatusOK, extract.FallbackText(inv))
}

// ListUploads handles GET /api/uploads
func (h *Handlers) ListUploads(c *gin.Context) {
	entries, err := os.ReadDir(h.uploadDir)
	if err != nil {
		if os.IsNotExist(err) {
			ok(c, gin.H{"uploads": []gin.H{}})
			return
		}
		fail(c, http.StatusInternalServerError, "failed to read upload directory")
		return
	}

	uploads := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".pdf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		uploads = append(uploads, gin.H{
			"filename":    e.Name(),
			"file_size":   info.Size(),
			"uploaded_at": info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	ok(c, gin.H{"uploads": uploads})
}

// ListVendors handles GET /api/vendors
func (h *Handlers) ListVendors(c *gin.Context) {
	vendors, err := h.vendors.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list vendors", zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to list vendors")
		return
	}
	stats, err := h.vendors.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to compute vendor stats", zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to compute vendor stats")
		return
	}
	ok(c, gin.H{"vendors": vendors, "stats": stats})
}

// VendorStats handles GET /api/vendors/stats
func (h *Handlers) VendorStats(c *gin.Context) {
	stats, err := h.vendors.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to compute vendor stats", zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to compute vendor stats")
		return
	}
	ok(c, stats)
}

// GetVendor handles GET /api/vendors/:id
func (h *Handlers) GetVendor(c *gin.Context) {
	id := c.Param("id")
	vendor, err := h.vendors.Get(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("vendor lookup failed", zap.String("vendor_id", id), zap.Error(err))
		fail(c, http.StatusInternalServerError, "vendor lookup failed")
		return
	}
	if vendor == nil {
		fail(c, http.StatusNotFound, "vendor %s not found", id)
		return
	}
	ok(c, vendor)
}

// LookupVendor handles GET /api/vendors/lookup/:name. A miss is not an
// error: the validation agent treats an unmatched vendor as a finding.
func (h *Handlers) LookupVendor(c *gin.Context) {
	name := c.Param("name")
	vendor, err := h.vendors.LookupByName(c.Request.Context(), name)
	if err != nil {
		h.logger.Error("vendor name lookup failed", zap.String("name", name), zap.Error(err))
		fail(c, http.StatusInternalServerError, "vendor lookup failed")
		return
	}
	if vendor == nil {
		ok(c, gin.H{
			"found":   false,
			"query":   name,
			"vendor":  nil,
			"message": fmt.Sprintf("No vendor found matching %q", name),
		})
		return
	}
	ok(c, gin.H{
		"found":   true,
		"query":   name,
		"vendor":  vendor,
		"message": fmt.Sprintf("Found vendor: %s (%s)", vendor.Name, vendor.VendorID),
	})
}

// ListInventory handles GET /api/inventory
func (h *Handlers) ListInventory(c *gin.Context) {
	items, err := h.inventory.All(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list inventory", zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to list inventory")
		return
	}
	ok(c, gin.H{"items": items})
}

// ListInvoices handles GET /api/invoices. An optional ?bucket= query
// narrows the listing to a single lifecycle bucket.
func (h *Handlers) ListInvoices(c *gin.Context) {
	bucket := lifecycle.Bucket(c.Query("bucket"))
	if bucket != "" && !bucket.IsValid() {
		fail(c, http.StatusBadRequest, "unknown bucket %q", bucket)
		return
	}

	byBucket := map[lifecycle.Bucket][]*entity.Invoice{
		lifecycle.BucketInbox:   h.store.Inbox(),
		lifecycle.BucketRouted:  h.store.Routed(),
		lifecycle.BucketPayable: h.store.Payable(),
		lifecycle.BucketPaid:    h.store.Paid(),
	}

	if bucket != "" {
		ok(c, gin.H{"bucket": bucket, "invoices": byBucket[bucket]})
		return
	}
	ok(c, gin.H{
		"inbox":   byBucket[lifecycle.BucketInbox],
		"routed":  byBucket[lifecycle.BucketRouted],
		"payable": byBucket[lifecycle.BucketPayable],
		"paid":    byBucket[lifecycle.BucketPaid],
	})
}

// GetInvoice handles GET /api/invoices/:id
func (h *Handlers) GetInvoice(c *gin.Context) {
	id := c.Param("id")
	inv, bucket, found := h.store.Lookup(id)
	if !found {
		fail(c, http.StatusNotFound, "invoice %s not found", id)
		return
	}
	ok(c, InvoiceEnvelope{Bucket: bucket.String(), Invoice: inv})
}

// StoreSummary handles GET /api/store
func (h *Handlers) StoreSummary(c *gin.Context) {
	counts := h.store.Counts()
	ok(c, gin.H{
		"counts":    counts,
		"processed": h.store.ProcessedCount(),
	})
}

// Reset handles POST /api/reset
func (h *Handlers) Reset(c *gin.Context) {
	h.store.Reset()
	ok(c, gin.H{"message": "store reset"})
}

// RouteToApproval handles POST /api/invoices/:id/route-to-approval. This
// is the human routing path: the invoice moves from inbox to the routed
// bucket and gets an amount-based approval chain. The agent triage path
// runs over the /ws/approval socket instead.
func (h *Handlers) RouteToApproval(c *gin.Context) {
	id := c.Param("id")
	inv := h.store.RouteToApproval(id)
	if inv == nil {
		h.lifecycleConflict(c, id, lifecycle.BucketInbox, "route to approval")
		return
	}
	ok(c, gin.H{
		"invoice_id":     inv.ID,
		"status":         inv.Status,
		"approval_chain": inv.ApprovalChain,
		"message":        fmt.Sprintf("Invoice routed, %d approval step(s) required", len(inv.ApprovalChain)),
	})
}

// RouteAllReady handles POST /api/invoices/route-all
func (h *Handlers) RouteAllReady(c *gin.Context) {
	routed := h.store.RouteAllReady()
	ids := make([]string, 0, len(routed))
	for _, inv := range routed {
		ids = append(ids, inv.ID)
	}
	ok(c, gin.H{"routed": ids, "count": len(ids)})
}

// Approve handles POST /api/invoices/:id/approve, advancing the approval
// chain by one step.
func (h *Handlers) Approve(c *gin.Context) {
	id := c.Param("id")
	inv := h.store.ApproveCurrent(id)
	if inv == nil {
		h.lifecycleConflict(c, id, lifecycle.BucketRouted, "approve")
		return
	}

	msg := fmt.Sprintf("Approval recorded, waiting on step %d of %d",
		inv.CurrentApprover+1, len(inv.ApprovalChain))
	if inv.Status == entity.StatusReadyToPay {
		msg = "Invoice fully approved and ready for payment"
	}
	ok(c, gin.H{
		"invoice_id":     inv.ID,
		"status":         inv.Status,
		"approval_chain": inv.ApprovalChain,
		"message":        msg,
	})
}

// Reject handles POST /api/invoices/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	id := c.Param("id")
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	inv := h.store.RejectCurrent(id, req.Reason)
	if inv == nil {
		h.lifecycleConflict(c, id, lifecycle.BucketRouted, "reject")
		return
	}
	ok(c, gin.H{
		"invoice_id":  inv.ID,
		"status":      inv.Status,
		"rejected_by": inv.RejectedBy,
		"reason":      inv.RejectionReason,
		"message":     "Invoice rejected",
	})
}

// Schedule handles POST /api/invoices/:id/schedule
func (h *Handlers) Schedule(c *gin.Context) {
	id := c.Param("id")
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	var date *time.Time
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid date %q, expected YYYY-MM-DD", req.Date)
			return
		}
		date = &parsed
	}

	inv := h.store.SchedulePayment(id, date)
	if inv == nil {
		h.lifecycleConflict(c, id, lifecycle.BucketPayable, "schedule payment for")
		return
	}
	ok(c, gin.H{
		"invoice_id":     inv.ID,
		"status":         inv.Status,
		"scheduled_date": inv.ScheduledDate,
		"message":        "Payment scheduled",
	})
}

// SetPaymentMethod handles POST /api/invoices/:id/payment-method
func (h *Handlers) SetPaymentMethod(c *gin.Context) {
	id := c.Param("id")
	var req PaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	inv := h.store.SetPaymentMethod(id, req.Method)
	if inv == nil {
		h.lifecycleConflict(c, id, lifecycle.BucketPayable, "set payment method for")
		return
	}
	ok(c, gin.H{
		"invoice_id":     inv.ID,
		"payment_method": inv.PaymentMethod,
	})
}

// Pay handles POST /api/invoices/:id/pay. The full payment stage runs
// synchronously with its event stream discarded except for the terminal
// result; clients that want the stream use the /ws/payment socket.
func (h *Handlers) Pay(c *gin.Context) {
	id := c.Param("id")
	sink := &terminalSink{}

	if err := h.pipeline.RunPayment(c.Request.Context(), sink, id, c.Query("approved_by"), c.Query("invoice_status")); err != nil {
		h.logger.Error("payment stage failed", zap.String("invoice_id", id), zap.Error(err))
		fail(c, http.StatusInternalServerError, "payment failed: %v", err)
		return
	}

	last := sink.terminal
	switch last.Kind {
	case protocol.KindComplete:
		inv, _, _ := h.store.Lookup(id)
		status := http.StatusOK
		if inv != nil && inv.Status == entity.StatusPaymentFailed {
			status = http.StatusBadGateway
		}
		c.JSON(status, Response{Success: status == http.StatusOK, Data: last.Result})
	case protocol.KindRejected:
		fail(c, http.StatusConflict, "%s", last.Message)
	default:
		fail(c, http.StatusInternalServerError, "%s", last.Message)
	}
}

// PaymentRunReport handles GET /api/reports/payment-run, streaming an
// xlsx workbook of every payable and paid invoice.
func (h *Handlers) PaymentRunReport(c *gin.Context) {
	invoices := append(h.store.Payable(), h.store.Paid()...)

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition",
		fmt.Sprintf("attachment; filename=payment-run-%s.xlsx", time.Now().UTC().Format("2006-01-02")))

	if err := h.reports.Write(c.Writer, invoices); err != nil {
		h.logger.Error("payment run export failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
	}
}

// lifecycleConflict distinguishes a missing invoice from one sitting in
// the wrong bucket for the attempted operation.
func (h *Handlers) lifecycleConflict(c *gin.Context, id string, want lifecycle.Bucket, op string) {
	_, bucket, found := h.store.Lookup(id)
	if !found {
		fail(c, http.StatusNotFound, "invoice %s not found", id)
		return
	}
	fail(c, http.StatusConflict, "cannot %s invoice %s: in bucket %q, expected %q", op, id, bucket, want)
}
