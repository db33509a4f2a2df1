// Package ws exposes the staged processing pipeline over websocket
// connections. Each stage gets its own endpoint; the server streams
// protocol events until a terminal event ends the session.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
	"github.com/finops-lab/invoiceflow/internal/extract"
	"github.com/finops-lab/invoiceflow/internal/pipeline"
	"github.com/finops-lab/invoiceflow/internal/protocol"
)

// writeDelay paces event delivery so clients render a live stream rather
// than one burst.
const writeDelay = 10 * time.Millisecond

// Handlers holds the websocket endpoints for the three pipeline stages
type Handlers struct {
	pipeline  *pipeline.Pipeline
	extractor *extract.Extractor
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewHandlers creates the websocket handlers
func NewHandlers(pl *pipeline.Pipeline, extractor *extract.Extractor, logger *zap.Logger) *Handlers {
	return &Handlers{
		pipeline:  pl,
		extractor: extractor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The demo frontend is served from a different origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Register mounts the websocket routes on the router
func (h *Handlers) Register(router *gin.Engine) {
	router.GET("/ws/process", h.Process)
	router.GET("/ws/approval/:id", h.Approval)
	router.GET("/ws/payment/:id", h.Payment)
}

// processRequest is the first client message on a process socket
type processRequest struct {
	RawInvoice string `json:"raw_invoice"`
	InvoiceID  string `json:"invoice_id"`
}

// Process handles /ws/process: the client connects, receives a connected
// event, sends the raw invoice, and the ingestion stage streams back.
// The invoice lands in the inbox; later stages run on their own sockets.
func (h *Handlers) Process(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	sink := &connSink{conn: conn}

	if err := sink.connected(ctx, "Connected. Send invoice to process (ingestion + validation)."); err != nil {
		return
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		h.logger.Debug("process socket closed before request", zap.Error(err))
		return
	}
	var req processRequest
	if err := json.Unmarshal(data, &req); err != nil {
		sink.Emit(ctx, protocol.NewError(fmt.Sprintf("malformed request: %v", err), ""))
		return
	}
	if req.RawInvoice == "" {
		sink.Emit(ctx, protocol.NewError("missing raw_invoice in request", ""))
		return
	}

	ingest := pipeline.IngestRequest{
		RawInvoice: req.RawInvoice,
		InvoiceID:  req.InvoiceID,
	}

	// A raw invoice that names a stored PDF is extracted first; anything
	// else is treated as invoice text.
	if path := req.RawInvoice; strings.HasSuffix(strings.ToLower(path), ".pdf") {
		if _, statErr := os.Stat(path); statErr == nil {
			result, exErr := h.extractor.ExtractPDF(path)
			if exErr != nil {
				sink.Emit(ctx, protocol.NewError(fmt.Sprintf("PDF extraction failed: %v", exErr), "ingestion"))
				return
			}
			ingest.RawInvoice = result.Text
			ingest.SourceType = entity.SourcePDF
			ingest.SourcePath = path
			ingest.OriginalFilename = filepath.Base(path)
		}
	}

	if err := h.pipeline.RunIngestion(ctx, sink, ingest); err != nil {
		h.logger.Debug("ingestion stream ended early",
			zap.String("invoice_id", req.InvoiceID),
			zap.Error(err),
		)
	}
}

// Approval handles /ws/approval/:id, streaming the triage stage for an
// inbox invoice.
func (h *Handlers) Approval(c *gin.Context) {
	invoiceID := c.Param("id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	sink := &connSink{conn: conn}

	if err := sink.connected(ctx, fmt.Sprintf("Running approval analysis for %s", invoiceID)); err != nil {
		return
	}
	if err := h.pipeline.RunApproval(ctx, sink, invoiceID); err != nil {
		h.logger.Debug("approval stream ended early",
			zap.String("invoice_id", invoiceID),
			zap.Error(err),
		)
	}
}

// Payment handles /ws/payment/:id. Human-approval provenance arrives as
// query parameters so the stage can authorize without re-deriving it.
func (h *Handlers) Payment(c *gin.Context) {
	invoiceID := c.Param("id")
	approvedBy := c.Query("approved_by")
	invoiceStatus := c.Query("invoice_status")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	sink := &connSink{conn: conn}

	if err := sink.connected(ctx, fmt.Sprintf("Executing payment for %s", invoiceID)); err != nil {
		return
	}
	if err := h.pipeline.RunPayment(ctx, sink, invoiceID, approvedBy, invoiceStatus); err != nil {
		h.logger.Debug("payment stream ended early",
			zap.String("invoice_id", invoiceID),
			zap.Error(err),
		)
	}
}

// connSink writes pipeline events to a single websocket connection. All
// writes happen on the handler goroutine, so no write lock is needed.
type connSink struct {
	conn *websocket.Conn
}

func (s *connSink) Emit(ctx context.Context, e protocol.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := e.Encode()
	if err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write event %s: %w", e.Kind, err)
	}
	time.Sleep(writeDelay)
	return nil
}

func (s *connSink) connected(ctx context.Context, message string) error {
	e := protocol.New(protocol.KindConnected)
	e.Message = message
	return s.Emit(ctx, e)
}
