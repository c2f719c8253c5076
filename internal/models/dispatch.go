package models

import (
	"time"

	"gorm.io/datatypes"
)

// Dispatch outbox statuses.
const (
	DispatchStatusPending   = "pending"
	DispatchStatusSent      = "sent"
	DispatchStatusExhausted = "exhausted"
)

// Dispatch is the durable outbox record for one workflow notification.
// It is inserted in the same transaction as its report so that a report row
// can never exist without a record of the intent to notify the workflow.
type Dispatch struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ReportID string         `gorm:"type:text;not null;uniqueIndex"` // Report this dispatch notifies about.
	Payload  datatypes.JSON `gorm:"type:jsonb;not null"`            // Webhook request body.

	Status    string    `gorm:"type:text;not null;default:pending;index"` // pending, sent or exhausted.
	Attempts  int       `gorm:"not null;default:0"`                       // Send attempts so far.
	LastError string    `gorm:"type:text"`                                // Error from the most recent attempt.
	NextTryAt time.Time `gorm:"not null;index"`                           // Earliest time for the next attempt.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
