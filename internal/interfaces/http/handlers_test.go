package http

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/agent"
	"github.com/finops-lab/invoiceflow/internal/domain/approval"
	"github.com/finops-lab/invoiceflow/internal/domain/entity"
	"github.com/finops-lab/invoiceflow/internal/extract"
	"github.com/finops-lab/invoiceflow/internal/pipeline"
	"github.com/finops-lab/invoiceflow/internal/report"
	"github.com/finops-lab/invoiceflow/internal/repository"
	"github.com/finops-lab/invoiceflow/internal/store"
	"github.com/finops-lab/invoiceflow/pkg/database"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.NewMigrator(db, logger).Run())

	st := store.New(approval.DefaultLadder(), logger)
	pl := pipeline.New(nil, nil, nil, agent.NewMockGateway(logger), st, logger)

	handlers := NewHandlers(
		st,
		pl,
		repository.NewVendorRepository(db.DB, logger),
		repository.NewInventoryRepository(db.DB, logger),
		extract.NewExtractor(logger),
		report.NewPaymentRunWriter(logger),
		t.TempDir(),
		10<<20,
		logger,
	)
	return NewServer(DefaultServerConfig(), handlers, logger), st
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t)
	w, resp := doJSON(t, srv, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
}

func TestVendorEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("list includes stats", func(t *testing.T) {
		w, resp := doJSON(t, srv, http.MethodGet, "/api/vendors", nil)
		require.Equal(t, http.StatusOK, w.Code)

		data := resp.Data.(map[string]any)
		vendors := data["vendors"].([]any)
		assert.Len(t, vendors, 3)
		stats := data["stats"].(map[string]any)
		assert.Equal(t, float64(3), stats["total_vendors"])
	})

	t.Run("get by id", func(t *testing.T) {
		w, resp := doJSON(t, srv, http.MethodGet, "/api/vendors/VND-001", nil)
		require.Equal(t, http.StatusOK, w.Code)
		vendor := resp.Data.(map[string]any)
		assert.Equal(t, "Widgets Inc.", vendor["name"])
	})

	t.Run("get unknown is 404", func(t *testing.T) {
		w, resp := doJSON(t, srv, http.MethodGet, "/api/vendors/VND-999", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.False(t, resp.Success)
	})

	t.Run("lookup miss is a found=false success", func(t *testing.T) {
		w, resp := doJSON(t, srv, http.MethodGet, "/api/vendors/lookup/Nobody", nil)
		require.Equal(t, http.StatusOK, w.Code)
		data := resp.Data.(map[string]any)
		assert.Equal(t, false, data["found"])
	})

	t.Run("lookup by alias", func(t *testing.T) {
		w, resp := doJSON(t, srv, http.MethodGet, "/api/vendors/lookup/GadgetsCo", nil)
		require.Equal(t, http.StatusOK, w.Code)
		data := resp.Data.(map[string]any)
		require.Equal(t, true, data["found"])
		vendor := data["vendor"].(map[string]any)
		assert.Equal(t, "VND-002", vendor["vendor_id"])
	})
}

func TestInventoryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	w, resp := doJSON(t, srv, http.MethodGet, "/api/inventory", nil)

	require.Equal(t, http.StatusOK, w.Code)
	items := resp.Data.(map[string]any)["items"].([]any)
	assert.Len(t, items, 4)
}

func TestInvoiceLifecycleOverHTTP(t *testing.T) {
	srv, st := newTestServer(t)

	st.Ingest(&entity.Invoice{
		ID:     "INV-HTTP-1",
		Vendor: "Widgets Inc.",
		Amount: 3000,
		Status: entity.StatusReadyForApproval,
	})

	t.Run("listing shows the inbox invoice", func(t *testing.T) {
		w, resp := doJSON(t, srv, http.MethodGet, "/api/invoices?bucket=inbox", nil)
		require.Equal(t, http.StatusOK, w.Code)
		invoices := resp.Data.(map[string]any)["invoices"].([]any)
		assert.Len(t, invoices, 1)
	})

	t.Run("route to approval", func(t *testing.T) {
		w, resp := doJSON(t, srv, http.MethodPost, "/api/invoices/INV-HTTP-1/route-to-approval", nil)
		require.Equal(t, http.StatusOK, w.Code)
		data := resp.Data.(map[string]any)
		// 3000 clears only the zero-threshold rung
		assert.Len(t, data["approval_chain"].([]any), 1)
	})

	t.Run("routing again conflicts", func(t *testing.T) {
		w, resp := doJSON(t, srv, http.MethodPost, "/api/invoices/INV-HTTP-1/route-to-approval", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, resp.Error, "routed")
	})

	t.Run("single approval lands in payable", func(t *testing.T) {
		w, resp := doJSON(t, srv, http.MethodPost, "/api/invoices/INV-HTTP-1/approve", nil)
		require.Equal(t, http.StatusOK, w.Code)
		data := resp.Data.(map[string]any)
		assert.Equal(t, "ready_to_pay", data["status"])
	})

	t.Run("schedule and set method", func(t *testing.T) {
		w, resp := doJSON(t, srv, http.MethodPost, "/api/invoices/INV-HTTP-1/schedule",
			ScheduleRequest{Date: "2026-09-15"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "scheduled", resp.Data.(map[string]any)["status"])

		w, resp = doJSON(t, srv, http.MethodPost, "/api/invoices/INV-HTTP-1/payment-method",
			PaymentMethodRequest{Method: "Wire"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Wire", resp.Data.(map[string]any)["payment_method"])
	})

	t.Run("pay moves it to paid", func(t *testing.T) {
		w, _ := doJSON(t, srv, http.MethodPost, "/api/invoices/INV-HTTP-1/pay", nil)
		require.Equal(t, http.StatusOK, w.Code)

		_, resp := doJSON(t, srv, http.MethodGet, "/api/invoices/INV-HTTP-1", nil)
		envelope := resp.Data.(map[string]any)
		assert.Equal(t, "paid", envelope["bucket"])
	})

	t.Run("unknown invoice is 404", func(t *testing.T) {
		w, _ := doJSON(t, srv, http.MethodPost, "/api/invoices/INV-NOPE/approve", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestPayRejectsUnapprovedInvoice(t *testing.T) {
	srv, st := newTestServer(t)

	st.Ingest(&entity.Invoice{
		ID:     "INV-HTTP-2",
		Vendor: "Widgets Inc.",
		Amount: 500,
		Status: entity.StatusNeedsReview,
	})

	w, resp := doJSON(t, srv, http.MethodPost, "/api/invoices/INV-HTTP-2/pay", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, resp.Error, "not approved")
}

func TestRouteAllReady(t *testing.T) {
	srv, st := newTestServer(t)

	st.Ingest(&entity.Invoice{ID: "INV-A", Amount: 100, Status: entity.StatusReadyForApproval})
	st.Ingest(&entity.Invoice{ID: "INV-B", Amount: 200, Status: entity.StatusNeedsReview})

	w, resp := doJSON(t, srv, http.MethodPost, "/api/invoices/route-all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(1), data["count"])
}

func TestUploadValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	upload := func(filename string, content []byte) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/invoices/upload-pdf", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)
		return w
	}

	t.Run("rejects non-pdf", func(t *testing.T) {
		w := upload("invoice.txt", []byte("plain text"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("accepts pdf and assigns an id", func(t *testing.T) {
		w := upload("Invoice 42.pdf", []byte("%PDF-1.4 fake"))
		require.Equal(t, http.StatusOK, w.Code)

		var resp Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp.Data.(map[string]any)
		id := data["invoice_id"].(string)
		assert.True(t, strings.HasPrefix(id, "pdf-"))
		assert.NotContains(t, data["file_path"].(string), " ")
	})
}

func TestInvoiceDocumentFallback(t *testing.T) {
	srv, st := newTestServer(t)

	st.Ingest(&entity.Invoice{
		ID:            "INV-DOC-1",
		Vendor:        "Widgets Inc.",
		InvoiceNumber: "INV-7001",
		Amount:        1650,
		Currency:      "USD",
		SourcePath:    "/nonexistent/uploads/gone.pdf",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/invoices/INV-DOC-1/document", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "INVOICE # INV-7001")
	assert.Contains(t, body, "Widgets Inc.")
}

func TestStoreSummaryAndReset(t *testing.T) {
	srv, st := newTestServer(t)
	st.Ingest(&entity.Invoice{ID: "INV-C", Amount: 100})

	_, resp := doJSON(t, srv, http.MethodGet, "/api/store", nil)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(1), data["processed"])

	w, _ := doJSON(t, srv, http.MethodPost, "/api/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, resp = doJSON(t, srv, http.MethodGet, "/api/store", nil)
	data = resp.Data.(map[string]any)
	assert.Equal(t, float64(0), data["processed"])
}

func TestPaymentRunReportEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	st.Ingest(&entity.Invoice{ID: "INV-D", Amount: 100, Status: entity.StatusReadyForApproval})
	st.RouteToApproval("INV-D")
	st.ApproveCurrent("INV-D")

	req := httptest.NewRequest(http.MethodGet, "/api/reports/payment-run", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "spreadsheetml")
	assert.NotZero(t, w.Body.Len())
}
