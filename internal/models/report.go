package models

import (
	"time"

	"gorm.io/datatypes"
)

// Report lifecycle statuses. A report starts in processing and moves exactly
// once to completed or failed; terminal states are never left.
const (
	ReportStatusProcessing = "processing"
	ReportStatusCompleted  = "completed"
	ReportStatusFailed     = "failed"
)

// Report is one analysis request/result record tied to a user and a company.
type Report struct {
	ID string `gorm:"type:text;primaryKey"` // Time-based token, e.g. rep-1736942400000-a1b2.

	CompanyID string `gorm:"type:text;not null;index"` // Owning company.
	UserID    uint64 `gorm:"not null;index"`           // Owning user.

	Status string `gorm:"type:text;not null;default:processing"` // Lifecycle status.

	Payload      datatypes.JSON `gorm:"type:jsonb"` // Result document, write-once, set on completion.
	ErrorMessage string         `gorm:"type:text"`  // Present only when failed.

	CreatedAt   time.Time  `gorm:"not null;autoCreateTime"` // Creation timestamp.
	CompletedAt *time.Time // Set only on transition to completed.

	Company *Company `gorm:"foreignKey:CompanyID"` // Company relation.
}

// IsTerminal reports whether the status admits no further transitions.
func IsTerminal(status string) bool {
	return status == ReportStatusCompleted || status == ReportStatusFailed
}
