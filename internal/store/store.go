package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/reportdesk/reportdesk/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sentinel errors returned by store operations. Handlers translate these
// into HTTP status codes centrally.
var (
	// ErrNotFound indicates the referenced row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict indicates a unique constraint rejected the write.
	ErrConflict = errors.New("store: conflict")
	// ErrAlreadyTerminal indicates a report is no longer in processing.
	ErrAlreadyTerminal = errors.New("store: report already terminal")
)

// Store exposes the atomic persistence operations of the report lifecycle.
type Store struct {
	db *gorm.DB
}

// New constructs a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection for read-path queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// CompanyInput carries the fields needed to register a company.
type CompanyInput struct {
	TaxID     string
	Name      string
	Email     string
	Phone     string
	CreatedBy uint64
}

// CreateCompany inserts a new company. Returns ErrConflict when the tax id
// is already registered.
func (s *Store) CreateCompany(ctx context.Context, input CompanyInput) (*models.Company, error) {
	company := models.Company{
		ID:        uuid.NewString(),
		TaxID:     input.TaxID,
		Name:      input.Name,
		Email:     input.Email,
		Phone:     input.Phone,
		CreatedBy: input.CreatedBy,
		CreatedAt: time.Now().UTC(),
	}
	if errCreate := s.db.WithContext(ctx).Create(&company).Error; errCreate != nil {
		if IsUniqueViolation(errCreate) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("store: create company: %w", errCreate)
	}
	return &company, nil
}

// UpsertCompany resolves a tax id to its company row, creating the row when
// the tax id is unseen. Concurrent calls for the same tax id converge on one
// row: the insert uses ON CONFLICT DO NOTHING and losers fetch the winner.
// The second return value reports whether this call inserted the row.
func (s *Store) UpsertCompany(ctx context.Context, input CompanyInput) (*models.Company, bool, error) {
	candidate := models.Company{
		ID:        uuid.NewString(),
		TaxID:     input.TaxID,
		Name:      input.Name,
		Email:     input.Email,
		Phone:     input.Phone,
		CreatedBy: input.CreatedBy,
		CreatedAt: time.Now().UTC(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tax_id"}},
		DoNothing: true,
	}).Create(&candidate)
	if res.Error != nil {
		return nil, false, fmt.Errorf("store: upsert company: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return &candidate, true, nil
	}

	var existing models.Company
	if errFind := s.db.WithContext(ctx).Where("tax_id = ?", input.TaxID).First(&existing).Error; errFind != nil {
		return nil, false, fmt.Errorf("store: fetch company after conflict: %w", errFind)
	}
	return &existing, false, nil
}

// NewReportID generates a time-based report token with a short random suffix
// so that two creates in the same millisecond stay distinct.
func NewReportID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
	return fmt.Sprintf("rep-%d-%s", time.Now().UnixMilli(), suffix)
}

// CreateReport inserts the report row and its pending dispatch record in one
// transaction. The dispatch payload is the webhook request body that will be
// sent to the workflow engine.
func (s *Store) CreateReport(ctx context.Context, report *models.Report, dispatchPayload []byte) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errReport := tx.Create(report).Error; errReport != nil {
			return fmt.Errorf("store: create report: %w", errReport)
		}
		dispatch := models.Dispatch{
			ReportID:  report.ID,
			Payload:   datatypes.JSON(dispatchPayload),
			Status:    models.DispatchStatusPending,
			NextTryAt: now,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if errDispatch := tx.Create(&dispatch).Error; errDispatch != nil {
			return fmt.Errorf("store: create dispatch: %w", errDispatch)
		}
		return nil
	})
}

// CompleteReport performs the single guarded transition out of processing.
// The guard is one conditional UPDATE so that two concurrent callbacks can
// never both succeed. Returns ErrNotFound for an unknown id and
// ErrAlreadyTerminal when the report has already left processing.
func (s *Store) CompleteReport(ctx context.Context, reportID, status string, payload json.RawMessage, errorMessage string) (*models.Report, error) {
	updates := map[string]any{
		"status":        status,
		"error_message": errorMessage,
	}
	if status == models.ReportStatusCompleted {
		now := time.Now().UTC()
		updates["completed_at"] = &now
	}
	if len(payload) > 0 {
		updates["payload"] = datatypes.JSON(payload)
	}

	res := s.db.WithContext(ctx).Model(&models.Report{}).
		Where("id = ? AND status = ?", reportID, models.ReportStatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("store: complete report: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var existing models.Report
		errFind := s.db.WithContext(ctx).Select("id", "status").Where("id = ?", reportID).First(&existing).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		if errFind != nil {
			return nil, fmt.Errorf("store: check report: %w", errFind)
		}
		return nil, fmt.Errorf("%w: status is %s", ErrAlreadyTerminal, existing.Status)
	}

	var updated models.Report
	if errFind := s.db.WithContext(ctx).Where("id = ?", reportID).First(&updated).Error; errFind != nil {
		return nil, fmt.Errorf("store: reload report: %w", errFind)
	}
	return &updated, nil
}

// GetOwnedReport loads a report by id scoped to its owner. A report owned by
// another user is indistinguishable from a missing one.
func (s *Store) GetOwnedReport(ctx context.Context, reportID string, userID uint64) (*models.Report, error) {
	var report models.Report
	errFind := s.db.WithContext(ctx).Preload("Company").
		Where("id = ? AND user_id = ?", reportID, userID).
		First(&report).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if errFind != nil {
		return nil, fmt.Errorf("store: get report: %w", errFind)
	}
	return &report, nil
}

// DeleteOwnedReport hard-deletes a report scoped to its owner. Returns
// ErrNotFound when no owned row matched.
func (s *Store) DeleteOwnedReport(ctx context.Context, reportID string, userID uint64) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", reportID, userID).
		Delete(&models.Report{})
	if res.Error != nil {
		return fmt.Errorf("store: delete report: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IsUniqueViolation reports whether the error is a unique constraint failure
// on either supported dialect.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
