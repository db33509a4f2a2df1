package runner

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
)

const (
	processPath  = "/ws/process"
	approvalPath = "/ws/approval"
	paymentPath  = "/ws/payment"
)

// WebsocketDialer opens runner channels over websocket connections to a
// processing server
type WebsocketDialer struct {
	baseURL string
	dialer  *websocket.Dialer
}

// NewWebsocketDialer creates a dialer against a base URL such as
// "ws://localhost:8080"
func NewWebsocketDialer(baseURL string) *WebsocketDialer {
	return &WebsocketDialer{
		baseURL: baseURL,
		dialer:  websocket.DefaultDialer,
	}
}

// Dial opens the channel for a stage request. The payment endpoint carries
// approval provenance as query parameters.
func (d *WebsocketDialer) Dial(ctx context.Context, req Request) (Channel, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	switch req.Stage {
	case SelectIngestion:
		u.Path = processPath
	case SelectApproval:
		u.Path = approvalPath + "/" + req.InvoiceID
	case SelectPayment:
		u.Path = paymentPath + "/" + req.InvoiceID
		q := u.Query()
		if req.ApprovedBy != "" {
			q.Set("approved_by", req.ApprovedBy)
		}
		if req.InvoiceStatus != "" {
			q.Set("invoice_status", req.InvoiceStatus)
		}
		u.RawQuery = q.Encode()
	default:
		return nil, fmt.Errorf("unknown stage selector %q", req.Stage)
	}

	conn, resp, err := d.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	ch := &wsChannel{conn: conn, done: make(chan struct{})}
	go ch.watch(ctx)
	return ch, nil
}

// wsChannel adapts a websocket connection to the Channel interface. The watch
// goroutine closes the connection when the session context is cancelled,
// which unblocks any pending read.
type wsChannel struct {
	conn *websocket.Conn
	done chan struct{}
}

func (c *wsChannel) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		c.conn.Close()
	case <-c.done:
	}
}

func (c *wsChannel) Send(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsChannel) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *wsChannel) Close() error {
	close(c.done)
	return c.conn.Close()
}
