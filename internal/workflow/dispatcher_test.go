package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/reportdesk/reportdesk/internal/config"
	dbpkg "github.com/reportdesk/reportdesk/internal/db"
	"github.com/reportdesk/reportdesk/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "workflow_test.db")
	conn, errOpen := dbpkg.Open(dsn)
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := dbpkg.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func seedDispatch(t *testing.T, conn *gorm.DB, reportID string, attempts int) {
	t.Helper()
	now := time.Now().UTC()
	dispatch := models.Dispatch{
		ReportID:  reportID,
		Payload:   []byte(`{"reportId":"` + reportID + `"}`),
		Status:    models.DispatchStatusPending,
		Attempts:  attempts,
		NextTryAt: now.Add(-time.Second),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errCreate := conn.Create(&dispatch).Error; errCreate != nil {
		t.Fatalf("seed dispatch: %v", errCreate)
	}
}

func loadDispatch(t *testing.T, conn *gorm.DB, reportID string) models.Dispatch {
	t.Helper()
	var dispatch models.Dispatch
	if errFind := conn.Where("report_id = ?", reportID).First(&dispatch).Error; errFind != nil {
		t.Fatalf("load dispatch: %v", errFind)
	}
	return dispatch
}

func TestDeliverPendingMarksSent(t *testing.T) {
	conn := openTestDB(t)

	var received atomic.Int64
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	d := NewDispatcher(conn, config.WorkflowConfig{WebhookURL: srv.URL}, nil)
	seedDispatch(t, conn, "rep-1", 0)

	if errSend := d.deliverPending(context.Background(), "rep-1"); errSend != nil {
		t.Fatalf("deliver: %v", errSend)
	}
	if received.Load() != 1 {
		t.Fatalf("expected one webhook call, got %d", received.Load())
	}
	if gotBody["reportId"] != "rep-1" {
		t.Fatalf("unexpected webhook body %v", gotBody)
	}

	dispatch := loadDispatch(t, conn, "rep-1")
	if dispatch.Status != models.DispatchStatusSent {
		t.Fatalf("expected sent, got %s", dispatch.Status)
	}
	if dispatch.Attempts != 1 {
		t.Fatalf("expected one attempt, got %d", dispatch.Attempts)
	}
}

func TestFailedDeliveryStaysPendingForRetry(t *testing.T) {
	conn := openTestDB(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	d := NewDispatcher(conn, config.WorkflowConfig{WebhookURL: srv.URL}, nil)
	seedDispatch(t, conn, "rep-2", 0)

	if errSend := d.deliverPending(context.Background(), "rep-2"); errSend == nil {
		t.Fatalf("expected delivery error")
	}

	dispatch := loadDispatch(t, conn, "rep-2")
	if dispatch.Status != models.DispatchStatusPending {
		t.Fatalf("expected pending, got %s", dispatch.Status)
	}
	if dispatch.Attempts != 1 {
		t.Fatalf("expected one attempt, got %d", dispatch.Attempts)
	}
	if dispatch.LastError == "" {
		t.Fatalf("expected last error to be recorded")
	}
	if !dispatch.NextTryAt.After(time.Now().UTC()) {
		t.Fatalf("expected next try in the future, got %v", dispatch.NextTryAt)
	}
}

func TestSweepResendsDueDispatch(t *testing.T) {
	conn := openTestDB(t)

	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	d := NewDispatcher(conn, config.WorkflowConfig{WebhookURL: srv.URL}, nil)
	seedDispatch(t, conn, "rep-3", 2)

	d.sweep(context.Background())

	if received.Load() != 1 {
		t.Fatalf("expected one webhook call, got %d", received.Load())
	}
	dispatch := loadDispatch(t, conn, "rep-3")
	if dispatch.Status != models.DispatchStatusSent {
		t.Fatalf("expected sent, got %s", dispatch.Status)
	}
	if dispatch.Attempts != 3 {
		t.Fatalf("expected three attempts, got %d", dispatch.Attempts)
	}
}

func TestAttemptCeilingParksAsExhausted(t *testing.T) {
	conn := openTestDB(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	d := NewDispatcher(conn, config.WorkflowConfig{WebhookURL: srv.URL}, nil)
	seedDispatch(t, conn, "rep-4", maxAttempts-1)

	d.sweep(context.Background())

	dispatch := loadDispatch(t, conn, "rep-4")
	if dispatch.Status != models.DispatchStatusExhausted {
		t.Fatalf("expected exhausted, got %s", dispatch.Status)
	}
	if dispatch.Attempts != maxAttempts {
		t.Fatalf("expected %d attempts, got %d", maxAttempts, dispatch.Attempts)
	}
}

func TestBuildPayloadEmbedsCallbackURL(t *testing.T) {
	d := NewDispatcher(nil, config.WorkflowConfig{
		WebhookURL:    "http://workflow.local/hook",
		PublicBaseURL: "https://reports.example.com",
	}, nil)

	raw, errBuild := d.BuildPayload("rep-5", "12345678901", "Acme Srl", "a@b.c", "")
	if errBuild != nil {
		t.Fatalf("build: %v", errBuild)
	}
	var payload NotifyRequest
	if errDecode := json.Unmarshal(raw, &payload); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if payload.CallbackURL != "https://reports.example.com/reports/rep-5/complete" {
		t.Fatalf("unexpected callback url %q", payload.CallbackURL)
	}
	if payload.TaxID != "12345678901" {
		t.Fatalf("unexpected tax id %q", payload.TaxID)
	}
}

func TestVerifyCallbackSecret(t *testing.T) {
	open := NewDispatcher(nil, config.WorkflowConfig{}, nil)
	if !open.VerifyCallbackSecret("anything") {
		t.Fatalf("empty configured secret must allow")
	}

	locked := NewDispatcher(nil, config.WorkflowConfig{CallbackSecret: "s3cret"}, nil)
	if !locked.VerifyCallbackSecret("s3cret") {
		t.Fatalf("matching secret must allow")
	}
	if locked.VerifyCallbackSecret("wrong") {
		t.Fatalf("wrong secret must be rejected")
	}
	if locked.VerifyCallbackSecret("") {
		t.Fatalf("missing secret must be rejected")
	}
}
