package models

import "time"

// Company represents a business subject to report requests, keyed by its
// 11-digit tax identifier. At most one row may exist per tax id; the
// uniqueness is enforced by the store, not by application checks.
type Company struct {
	ID string `gorm:"type:text;primaryKey"` // UUID assigned at creation.

	TaxID string `gorm:"type:text;not null;uniqueIndex"` // 11-digit tax identifier.
	Name  string `gorm:"type:text;not null"`             // Display name.
	Email string `gorm:"type:text"`                      // Optional contact email.
	Phone string `gorm:"type:text"`                      // Optional contact phone.

	CreatedBy uint64 `gorm:"index"` // User that first registered the company.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
