package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SettlementEventType string

const (
	SettlementEventTypeCompleted          SettlementEventType = "completed"
	SettlementEventTypeDisputed           SettlementEventType = "disputed"
	SettlementEventTypeCompensationFailed SettlementEventType = "compensation_failed"
)

type SettlementEvent struct {
	ID         uuid.UUID
	SourceKind TransactableKind
	SourceID   string
	EventType  SettlementEventType
	Actor      string
	Payload    json.RawMessage
	CreatedAt  time.Time
}
