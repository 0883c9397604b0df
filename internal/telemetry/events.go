package telemetry

import (
	"encoding/json"
	"log"

	"github.com/novaos/backend/internal/core"
)

// OperationalEvent is one structured log line about gate behavior. It is
// emitted as JSON so log pipelines can filter on fields.
type OperationalEvent struct {
	Event         string         `json:"event"`
	CorrelationID string         `json:"correlationId,omitempty"`
	TurnID        string         `json:"turnId,omitempty"`
	UserID        string         `json:"userId,omitempty"`
	Outcome       string         `json:"outcome,omitempty"`
	DurationMs    int64          `json:"durationMs,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// EventLogger writes operational events to the process log.
type EventLogger struct {
	logger *log.Logger
}

// NewEventLogger creates the gate event logger.
func NewEventLogger() *EventLogger {
	return &EventLogger{logger: log.New(log.Writer(), "[LENS] ", log.LstdFlags)}
}

// Emit writes one event. Marshal failures fall back to a plain line so
// the event is never lost.
func (e *EventLogger) Emit(ev OperationalEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		e.logger.Printf("⚠️ event marshal failed: %s %v", ev.Event, err)
		return
	}
	e.logger.Printf("%s", raw)
}

// EmitTurn is the common case: one line per completed turn.
func (e *EventLogger) EmitTurn(corr core.CorrelationContext, userID, outcome string, durationMs int64, fields map[string]any) {
	e.Emit(OperationalEvent{
		Event:         "lens.turn",
		CorrelationID: corr.TraceID,
		TurnID:        corr.RequestID,
		UserID:        userID,
		Outcome:       outcome,
		DurationMs:    durationMs,
		Fields:        fields,
	})
}
