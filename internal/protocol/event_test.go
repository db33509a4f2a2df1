package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Kind
		wantErr bool
	}{
		{"connected", `{"event":"connected","timestamp":1700000000.5,"message":"ready"}`, KindConnected, false},
		{"stage_start", `{"event":"stage_start","stage":"ingestion","description":"Extract structured data"}`, KindStageStart, false},
		{"stage_complete", `{"event":"stage_complete","stage":"validation","status":"warning"}`, KindStageComplete, false},
		{"log", `{"event":"log","level":"info","message":"checking inventory","stage":"validation"}`, KindLog, false},
		{"token_usage", `{"event":"token_usage","stage":"ingestion","usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15},"total":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`, KindTokenUsage, false},
		{"terminal error", `{"event":"error","message":"boom"}`, KindError, false},
		{"unknown kind decodes", `{"event":"shiny_new_thing"}`, Kind("shiny_new_thing"), false},
		{"missing kind", `{"timestamp":1}`, "", true},
		{"not json", `{{{`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.Kind)
		})
	}
}

func TestEvent_Known(t *testing.T) {
	assert.True(t, Event{Kind: KindStateUpdate}.Known())
	assert.True(t, Event{Kind: KindSelfCorrection}.Known())
	assert.False(t, Event{Kind: "future_extension"}.Known())
}

func TestEvent_Terminal(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindStage1Complete, true},
		{KindStage2Complete, true},
		{KindComplete, true},
		{KindRejected, true},
		{KindError, true},
		{KindConnected, false},
		{KindStageStart, false},
		{KindStageComplete, false},
		{KindAgentResponse, false},
		{KindLog, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := (Event{Kind: tt.kind}).Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvent_EncodeDecodeAgentResponse(t *testing.T) {
	val := ValidationData{
		IsValid:  false,
		Errors:   []string{"GadgetX: insufficient stock"},
		Warnings: []string{"AMOUNT: High-value invoice"},
		InventoryCheck: map[string]InventoryCheck{
			"GadgetX": {Requested: 20, InStock: 5, Available: false},
		},
	}
	e := New(KindAgentResponse)
	e.Stage = entity.StageValidation
	e.Data, _ = json.Marshal(val)

	wire, err := e.Encode()
	require.NoError(t, err)

	decoded, err := Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, KindAgentResponse, decoded.Kind)
	assert.Equal(t, entity.StageValidation, decoded.Stage)

	var got ValidationData
	require.NoError(t, json.Unmarshal(decoded.Data, &got))
	assert.False(t, got.IsValid)
	assert.Equal(t, 5, got.InventoryCheck["GadgetX"].InStock)
}

func TestNewHelpers(t *testing.T) {
	log := NewLog("warning", "flagged", entity.StageApproval)
	assert.Equal(t, KindLog, log.Kind)
	assert.Equal(t, "warning", log.Level)
	assert.NotZero(t, log.Timestamp)

	sc := NewStageComplete(entity.StagePayment, ResultFailed, PaymentData{Success: false, Error: "blocked"})
	assert.Equal(t, ResultFailed, sc.Status)
	assert.NotEmpty(t, sc.Data)

	errEv := NewError("channel dropped", "")
	assert.True(t, errEv.Terminal())
}
