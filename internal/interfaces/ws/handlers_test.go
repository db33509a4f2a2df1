package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/agent"
	"github.com/finops-lab/invoiceflow/internal/domain/approval"
	"github.com/finops-lab/invoiceflow/internal/extract"
	"github.com/finops-lab/invoiceflow/internal/pipeline"
	"github.com/finops-lab/invoiceflow/internal/protocol"
	"github.com/finops-lab/invoiceflow/internal/store"
)

type stubIngestion struct{}

func (stubIngestion) Extract(context.Context, string) (*agent.ExtractionOutcome, error) {
	return &agent.ExtractionOutcome{
		Data: &protocol.ExtractionData{
			InvoiceNumber: "INV-7001",
			Vendor:        "Widgets Inc.",
			Amount:        1200,
			Currency:      "USD",
			Confidence:    95,
		},
	}, nil
}

func (stubIngestion) Model() string { return "stub-model" }

type stubValidation struct{}

func (stubValidation) Validate(context.Context, *protocol.ExtractionData) (*agent.ValidationOutcome, error) {
	return &agent.ValidationOutcome{
		Result: &protocol.ValidationData{IsValid: true},
	}, nil
}

func (stubValidation) Model() string { return "stub-model" }

func newTestEndpoint(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	logger := zap.NewNop()

	st := store.New(approval.DefaultLadder(), logger)
	pl := pipeline.New(stubIngestion{}, stubValidation{}, nil, agent.NewMockGateway(logger), st, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	NewHandlers(pl, extract.NewExtractor(logger), logger).Register(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, st
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	e, err := protocol.Decode(data)
	require.NoError(t, err)
	return e
}

func TestProcessSocket(t *testing.T) {
	srv, st := newTestEndpoint(t)
	conn := dialWS(t, srv, "/ws/process")

	connected := readEvent(t, conn)
	require.Equal(t, protocol.KindConnected, connected.Kind)

	payload, _ := json.Marshal(map[string]string{
		"raw_invoice": "INVOICE #7001 from Widgets Inc., total $1200",
		"invoice_id":  "INV-WS-1",
	})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

	var kinds []protocol.Kind
	var terminal protocol.Event
	for {
		e := readEvent(t, conn)
		kinds = append(kinds, e.Kind)
		if e.Terminal() {
			terminal = e
			break
		}
	}

	assert.Equal(t, protocol.KindStage1Complete, terminal.Kind)
	assert.Equal(t, "INV-WS-1", terminal.InvoiceID)
	assert.Contains(t, kinds, protocol.KindStageStart)
	assert.Contains(t, kinds, protocol.KindAgentResponse)

	_, _, found := st.Lookup("INV-WS-1")
	assert.True(t, found, "processed invoice should land in the store")
}

func TestProcessSocketMissingRawInvoice(t *testing.T) {
	srv, _ := newTestEndpoint(t)
	conn := dialWS(t, srv, "/ws/process")

	readEvent(t, conn)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"invoice_id":"X"}`)))

	e := readEvent(t, conn)
	assert.Equal(t, protocol.KindError, e.Kind)
	assert.Contains(t, e.Message, "raw_invoice")
}

func TestApprovalSocketUnknownInvoice(t *testing.T) {
	srv, _ := newTestEndpoint(t)
	conn := dialWS(t, srv, "/ws/approval/INV-MISSING")

	connected := readEvent(t, conn)
	require.Equal(t, protocol.KindConnected, connected.Kind)

	e := readEvent(t, conn)
	assert.Equal(t, protocol.KindError, e.Kind)
	assert.Contains(t, e.Message, "INV-MISSING")
}

func TestPaymentSocketCarriesProvenance(t *testing.T) {
	srv, st := newTestEndpoint(t)

	// Run ingestion first so the invoice exists, then pay with human
	// provenance carried as query parameters.
	conn := dialWS(t, srv, "/ws/process")
	readEvent(t, conn)
	payload, _ := json.Marshal(map[string]string{"raw_invoice": "text", "invoice_id": "INV-WS-2"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
	for {
		if readEvent(t, conn).Terminal() {
			break
		}
	}
	conn.Close()

	// Human routing path moves the invoice into the payable bucket
	require.NotNil(t, st.RouteToApproval("INV-WS-2"))
	require.NotNil(t, st.ApproveCurrent("INV-WS-2"))

	payConn := dialWS(t, srv, "/ws/payment/INV-WS-2?approved_by=human:ap@example.com&invoice_status=ready_to_pay")
	readEvent(t, payConn)

	var terminal protocol.Event
	for {
		e := readEvent(t, payConn)
		if e.Terminal() {
			terminal = e
			break
		}
	}
	require.Equal(t, protocol.KindComplete, terminal.Kind)

	inv, _, found := st.Lookup("INV-WS-2")
	require.True(t, found)
	assert.NotEmpty(t, inv.TransactionID)
}
