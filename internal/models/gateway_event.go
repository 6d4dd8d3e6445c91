package models

import (
	"encoding/json"
	"time"
)

// GatewayEvent is an audit record of every webhook delivery accepted from
// the payment gateway, stored with the raw payload before any processing
// decision. Processing itself is idempotent via payment status guards, so
// these rows are diagnostics, not a dedup table.
type GatewayEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Gateway PaymentGateway  `gorm:"type:varchar(50);not null" json:"gateway"`
	Event   string          `gorm:"type:varchar(100);index" json:"event"`
	Payload json.RawMessage `gorm:"type:jsonb" json:"payload"`
}
