package workflow

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/reportdesk/reportdesk/internal/config"
	"github.com/reportdesk/reportdesk/internal/metrics"
	"github.com/reportdesk/reportdesk/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// maxAttempts parks a dispatch as exhausted once reached.
const maxAttempts = 10

// retryBackoff spaces consecutive attempts for the same dispatch.
const retryBackoff = 30 * time.Second

// NotifyRequest is the webhook request body sent to the workflow engine.
type NotifyRequest struct {
	ReportID    string `json:"reportId"`
	TaxID       string `json:"taxId"`
	CompanyName string `json:"companyName"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	CallbackURL string `json:"callbackUrl"`
}

// Dispatcher sends workflow notifications and drives the durable outbox.
// A single send attempt never blocks report creation; the retrier loop picks
// up anything the inline attempt could not deliver.
type Dispatcher struct {
	db     *gorm.DB
	cfg    config.WorkflowConfig
	client *http.Client
	m      *metrics.Metrics
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(db *gorm.DB, cfg config.WorkflowConfig, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		db:     db,
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		m:      m,
	}
}

// BuildPayload serializes the webhook body for a report, embedding the
// completion callback URL.
func (d *Dispatcher) BuildPayload(reportID, taxID, companyName, email, phone string) ([]byte, error) {
	req := NotifyRequest{
		ReportID:    reportID,
		TaxID:       taxID,
		CompanyName: companyName,
		Email:       email,
		Phone:       phone,
		CallbackURL: fmt.Sprintf("%s/reports/%s/complete", d.cfg.PublicBaseURL, reportID),
	}
	return json.Marshal(req)
}

// VerifyCallbackSecret checks the completion callback secret. An empty
// configured secret admits every caller, which only makes sense in
// development; a warning is logged once per check.
func (d *Dispatcher) VerifyCallbackSecret(provided string) bool {
	if d.cfg.CallbackSecret == "" {
		log.Warn("callback secret not configured, accepting callback")
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(d.cfg.CallbackSecret)) == 1
}

// NotifyAsync fires the first delivery attempt for a report's dispatch row
// on a background goroutine. Failures are logged and left for the retrier.
func (d *Dispatcher) NotifyAsync(reportID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if errSend := d.deliverPending(ctx, reportID); errSend != nil {
			log.WithError(errSend).WithField("report_id", reportID).
				Warn("workflow dispatch failed, report stays in processing until retry")
		}
	}()
}

// deliverPending loads the pending dispatch row for a report and attempts
// delivery once.
func (d *Dispatcher) deliverPending(ctx context.Context, reportID string) error {
	var dispatch models.Dispatch
	errFind := d.db.WithContext(ctx).
		Where("report_id = ? AND status = ?", reportID, models.DispatchStatusPending).
		First(&dispatch).Error
	if errFind != nil {
		return fmt.Errorf("workflow: load dispatch: %w", errFind)
	}
	return d.attempt(ctx, &dispatch)
}

// attempt performs one webhook POST and records the outcome on the row.
// A 2xx answer marks the dispatch sent; anything else counts the attempt,
// schedules the next retry, and parks the row as exhausted at the ceiling.
func (d *Dispatcher) attempt(ctx context.Context, dispatch *models.Dispatch) error {
	sendErr := d.post(ctx, dispatch.Payload)

	now := time.Now().UTC()
	updates := map[string]any{
		"attempts":   dispatch.Attempts + 1,
		"updated_at": now,
	}
	if sendErr == nil {
		updates["status"] = models.DispatchStatusSent
		updates["last_error"] = ""
	} else {
		updates["last_error"] = sendErr.Error()
		updates["next_try_at"] = now.Add(retryBackoff)
		if dispatch.Attempts+1 >= maxAttempts {
			updates["status"] = models.DispatchStatusExhausted
		}
	}

	// Guard on pending so a concurrent retrier attempt cannot double-mark.
	res := d.db.WithContext(ctx).Model(&models.Dispatch{}).
		Where("id = ? AND status = ?", dispatch.ID, models.DispatchStatusPending).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("workflow: record attempt: %w", res.Error)
	}

	if d.m != nil {
		switch {
		case sendErr == nil:
			d.m.DispatchAttempts.WithLabelValues("sent").Inc()
		case dispatch.Attempts+1 >= maxAttempts:
			d.m.DispatchAttempts.WithLabelValues("exhausted").Inc()
		default:
			d.m.DispatchAttempts.WithLabelValues("error").Inc()
		}
	}

	if sendErr != nil {
		return fmt.Errorf("workflow: send: %w", sendErr)
	}
	log.WithField("report_id", dispatch.ReportID).Info("workflow notified")
	return nil
}

// post sends one webhook request and fails on any non-2xx answer.
func (d *Dispatcher) post(ctx context.Context, body []byte) error {
	if d.cfg.WebhookURL == "" {
		return fmt.Errorf("webhook url not configured")
	}
	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if errReq != nil {
		return errReq
	}
	req.Header.Set("Content-Type", "application/json")

	resp, errDo := d.client.Do(req)
	if errDo != nil {
		return errDo
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook answered %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
