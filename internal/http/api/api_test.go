package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reportdesk/reportdesk/internal/config"
	dbpkg "github.com/reportdesk/reportdesk/internal/db"
	"github.com/reportdesk/reportdesk/internal/store"
	"github.com/reportdesk/reportdesk/internal/workflow"
)

const testCallbackSecret = "test-callback-secret"

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := "file:" + filepath.Join(t.TempDir(), "api_test.db")
	conn, errOpen := dbpkg.Open(dsn)
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := dbpkg.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(webhook.Close)

	dispatcher := workflow.NewDispatcher(conn, config.WorkflowConfig{
		WebhookURL:     webhook.URL,
		CallbackSecret: testCallbackSecret,
		PublicBaseURL:  "http://localhost:8318",
	}, nil)

	engine := gin.New()
	RegisterRoutes(engine, Deps{
		DB:         conn,
		Store:      store.New(conn),
		JWT:        config.JWTConfig{Secret: "test-secret", Expiry: time.Hour},
		Dispatcher: dispatcher,
	})
	return engine
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, errEncode := json.Marshal(body)
		if errEncode != nil {
			t.Fatalf("encode body: %v", errEncode)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &out); errDecode != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), errDecode)
	}
	return out
}

func registerUser(t *testing.T, engine *gin.Engine, email string) string {
	t.Helper()
	rec := doJSON(t, engine, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    email,
		"password": "secret1",
		"fullName": "Test User",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	token, _ := decodeJSON(t, rec)["token"].(string)
	if token == "" {
		t.Fatalf("register: missing token")
	}
	return token
}

func createReport(t *testing.T, engine *gin.Engine, token, taxID, name string) string {
	t.Helper()
	rec := doJSON(t, engine, http.MethodPost, "/reports", token, map[string]string{
		"taxId":       taxID,
		"companyName": name,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create report: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	id, _ := decodeJSON(t, rec)["reportId"].(string)
	if id == "" {
		t.Fatalf("create report: missing id")
	}
	return id
}

func TestRegisterLoginMe(t *testing.T) {
	engine := newTestServer(t)

	token := registerUser(t, engine, "alice@example.com")

	if rec := doJSON(t, engine, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "alice@example.com", "password": "secret1", "fullName": "Alice Again",
	}); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", rec.Code)
	}

	if rec := doJSON(t, engine, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong",
	}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", rec.Code)
	}

	rec := doJSON(t, engine, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "secret1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", rec.Code)
	}

	me := doJSON(t, engine, http.MethodGet, "/auth/me", token, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", me.Code)
	}
	user, _ := decodeJSON(t, me)["user"].(map[string]any)
	if user["email"] != "alice@example.com" {
		t.Fatalf("me: unexpected user %v", user)
	}

	if rec := doJSON(t, engine, http.MethodGet, "/auth/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("me without token: expected 401, got %d", rec.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	engine := newTestServer(t)

	cases := []map[string]string{
		{"email": "", "password": "secret1", "fullName": "Test User"},
		{"email": "not-an-email", "password": "secret1", "fullName": "Test User"},
		{"email": "b@example.com", "password": "short", "fullName": "Test User"},
		{"email": "b@example.com", "password": "secret1", "fullName": "X"},
	}
	for i, body := range cases {
		if rec := doJSON(t, engine, http.MethodPost, "/auth/register", "", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d", i, rec.Code)
		}
	}
}

func TestCompanyCreateAndConflict(t *testing.T) {
	engine := newTestServer(t)
	token := registerUser(t, engine, "carol@example.com")

	rec := doJSON(t, engine, http.MethodPost, "/companies", token, map[string]string{
		"taxId": "12345678901", "name": "Acme Srl",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	if rec := doJSON(t, engine, http.MethodPost, "/companies", token, map[string]string{
		"taxId": "12345678901", "name": "Other",
	}); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", rec.Code)
	}

	for _, bad := range []string{"1234567890", "123456789012", "1234567890a", ""} {
		if rec := doJSON(t, engine, http.MethodPost, "/companies", token, map[string]string{
			"taxId": bad, "name": "Acme",
		}); rec.Code != http.StatusBadRequest {
			t.Fatalf("tax id %q: expected 400, got %d", bad, rec.Code)
		}
	}
}

func TestCompanySearchAndAutocomplete(t *testing.T) {
	engine := newTestServer(t)
	token := registerUser(t, engine, "dave@example.com")

	for _, c := range []struct{ taxID, name string }{
		{"11111111111", "Rossi Costruzioni"},
		{"22222222222", "Bianchi Trasporti"},
	} {
		if rec := doJSON(t, engine, http.MethodPost, "/companies", token, map[string]string{
			"taxId": c.taxID, "name": c.name,
		}); rec.Code != http.StatusCreated {
			t.Fatalf("seed %s: got %d", c.name, rec.Code)
		}
	}

	rec := doJSON(t, engine, http.MethodGet, "/companies?search=rossi", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search: expected 200, got %d", rec.Code)
	}
	companies, _ := decodeJSON(t, rec)["companies"].([]any)
	if len(companies) != 1 {
		t.Fatalf("search: expected 1 match, got %d", len(companies))
	}

	rec = doJSON(t, engine, http.MethodGet, "/companies?taxId=22222222222", token, nil)
	companies, _ = decodeJSON(t, rec)["companies"].([]any)
	if len(companies) != 1 {
		t.Fatalf("taxId filter: expected 1 match, got %d", len(companies))
	}

	short := doJSON(t, engine, http.MethodGet, "/companies/autocomplete?q=r", token, nil)
	if got, _ := decodeJSON(t, short)["companies"].([]any); len(got) != 0 {
		t.Fatalf("autocomplete below minimum length must return nothing")
	}

	ac := doJSON(t, engine, http.MethodGet, "/companies/autocomplete?q=2222", token, nil)
	if got, _ := decodeJSON(t, ac)["companies"].([]any); len(got) != 1 {
		t.Fatalf("autocomplete: expected 1 suggestion, got %d", len(got))
	}
}

func TestReportLifecycle(t *testing.T) {
	engine := newTestServer(t)
	token := registerUser(t, engine, "erin@example.com")

	reportID := createReport(t, engine, token, "12345678901", "Acme Srl")

	list := doJSON(t, engine, http.MethodGet, "/reports/my", token, nil)
	if list.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", list.Code)
	}
	listBody := decodeJSON(t, list)
	reports, _ := listBody["reports"].([]any)
	if len(reports) != 1 {
		t.Fatalf("list: expected 1 report, got %d", len(reports))
	}
	first, _ := reports[0].(map[string]any)
	if first["status"] != "processing" {
		t.Fatalf("list: expected processing, got %v", first["status"])
	}

	if rec := doJSON(t, engine, http.MethodPost, "/reports/"+reportID+"/complete?secret=wrong", "", map[string]any{
		"status": "completed",
	}); rec.Code != http.StatusForbidden {
		t.Fatalf("bad secret: expected 403, got %d", rec.Code)
	}

	if rec := doJSON(t, engine, http.MethodPost, "/reports/"+reportID+"/complete?secret="+testCallbackSecret, "", map[string]any{
		"status": "completed", "payload": []int{1, 2, 3},
	}); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed payload: expected 400, got %d", rec.Code)
	}

	complete := doJSON(t, engine, http.MethodPost, "/reports/"+reportID+"/complete?secret="+testCallbackSecret, "", map[string]any{
		"status":  "completed",
		"payload": map[string]any{"version": 1, "riskScore": 42, "riskCategory": "medium"},
	})
	if complete.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", complete.Code, complete.Body.String())
	}

	if rec := doJSON(t, engine, http.MethodPost, "/reports/"+reportID+"/complete?secret="+testCallbackSecret, "", map[string]any{
		"status": "failed", "error": "late",
	}); rec.Code != http.StatusConflict {
		t.Fatalf("second complete: expected 409, got %d", rec.Code)
	}

	if rec := doJSON(t, engine, http.MethodPost, "/reports/rep-missing/complete?secret="+testCallbackSecret, "", map[string]any{
		"status": "completed",
	}); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown report: expected 404, got %d", rec.Code)
	}

	detail := doJSON(t, engine, http.MethodGet, "/reports/"+reportID, token, nil)
	if detail.Code != http.StatusOK {
		t.Fatalf("detail: expected 200, got %d", detail.Code)
	}
	detailBody := decodeJSON(t, detail)
	if detailBody["status"] != "completed" {
		t.Fatalf("detail: expected completed, got %v", detailBody["status"])
	}
	payload, _ := detailBody["payload"].(map[string]any)
	if payload["riskScore"] != float64(42) {
		t.Fatalf("detail: unexpected payload %v", detailBody["payload"])
	}

	relist := doJSON(t, engine, http.MethodGet, "/reports/my", token, nil)
	relisted, _ := decodeJSON(t, relist)["reports"].([]any)
	row, _ := relisted[0].(map[string]any)
	if row["riskScore"] != float64(42) {
		t.Fatalf("list: expected extracted risk score 42, got %v", row["riskScore"])
	}
	if row["riskCategory"] != "medium" {
		t.Fatalf("list: expected risk category medium, got %v", row["riskCategory"])
	}
}

func TestReportOwnership(t *testing.T) {
	engine := newTestServer(t)
	alice := registerUser(t, engine, "owner@example.com")
	bob := registerUser(t, engine, "intruder@example.com")

	reportID := createReport(t, engine, alice, "12345678901", "Acme Srl")

	if rec := doJSON(t, engine, http.MethodGet, "/reports/"+reportID, bob, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign get: expected 404, got %d", rec.Code)
	}
	if rec := doJSON(t, engine, http.MethodDelete, "/reports/"+reportID, bob, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign delete: expected 404, got %d", rec.Code)
	}
	if rec := doJSON(t, engine, http.MethodDelete, "/reports/"+reportID, alice, nil); rec.Code != http.StatusOK {
		t.Fatalf("owner delete: expected 200, got %d", rec.Code)
	}
	if rec := doJSON(t, engine, http.MethodGet, "/reports/"+reportID, alice, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("deleted report: expected 404, got %d", rec.Code)
	}
}

func TestReportListFiltersAndPagination(t *testing.T) {
	engine := newTestServer(t)
	token := registerUser(t, engine, "frank@example.com")

	ids := make([]string, 0, 3)
	for _, c := range []struct{ taxID, name string }{
		{"11111111111", "Rossi Costruzioni"},
		{"22222222222", "Bianchi Trasporti"},
		{"33333333333", "Verdi Alimentari"},
	} {
		ids = append(ids, createReport(t, engine, token, c.taxID, c.name))
	}

	doJSON(t, engine, http.MethodPost, "/reports/"+ids[0]+"/complete?secret="+testCallbackSecret, "", map[string]any{
		"status": "failed", "error": "no data",
	})

	failed := doJSON(t, engine, http.MethodGet, "/reports/my?status=failed", token, nil)
	failedRows, _ := decodeJSON(t, failed)["reports"].([]any)
	if len(failedRows) != 1 {
		t.Fatalf("status filter: expected 1 row, got %d", len(failedRows))
	}
	row, _ := failedRows[0].(map[string]any)
	if row["errorMessage"] != "no data" {
		t.Fatalf("status filter: expected error message, got %v", row)
	}

	search := doJSON(t, engine, http.MethodGet, "/reports/my?search=bianchi", token, nil)
	searchRows, _ := decodeJSON(t, search)["reports"].([]any)
	if len(searchRows) != 1 {
		t.Fatalf("search filter: expected 1 row, got %d", len(searchRows))
	}

	page := doJSON(t, engine, http.MethodGet, "/reports/my?limit=2&offset=0", token, nil)
	pageBody := decodeJSON(t, page)
	pageRows, _ := pageBody["reports"].([]any)
	if len(pageRows) != 2 {
		t.Fatalf("pagination: expected 2 rows, got %d", len(pageRows))
	}
	pagination, _ := pageBody["pagination"].(map[string]any)
	if pagination["total"] != float64(3) {
		t.Fatalf("pagination: expected total 3, got %v", pagination["total"])
	}
	if pagination["hasMore"] != true {
		t.Fatalf("pagination: expected hasMore")
	}

	clamped := doJSON(t, engine, http.MethodGet, "/reports/my?limit=5000", token, nil)
	clampedPagination, _ := decodeJSON(t, clamped)["pagination"].(map[string]any)
	if clampedPagination["limit"] != float64(100) {
		t.Fatalf("pagination: expected limit clamp to 100, got %v", clampedPagination["limit"])
	}
}

func TestCompanyReportsEndpoint(t *testing.T) {
	engine := newTestServer(t)
	token := registerUser(t, engine, "grace@example.com")

	reportID := createReport(t, engine, token, "12345678901", "Acme Srl")

	list := doJSON(t, engine, http.MethodGet, "/companies?taxId=12345678901", token, nil)
	companies, _ := decodeJSON(t, list)["companies"].([]any)
	if len(companies) != 1 {
		t.Fatalf("expected lazily created company")
	}
	company, _ := companies[0].(map[string]any)
	companyID, _ := company["id"].(string)

	rec := doJSON(t, engine, http.MethodGet, "/companies/"+companyID+"/reports", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("company reports: expected 200, got %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	reports, _ := body["reports"].([]any)
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	first, _ := reports[0].(map[string]any)
	if first["reportId"] != reportID {
		t.Fatalf("unexpected report %v", first)
	}

	if missing := doJSON(t, engine, http.MethodGet, "/companies/no-such-id/reports", token, nil); missing.Code != http.StatusNotFound {
		t.Fatalf("unknown company: expected 404, got %d", missing.Code)
	}
}

func TestStatsSummary(t *testing.T) {
	engine := newTestServer(t)
	token := registerUser(t, engine, "henry@example.com")

	first := createReport(t, engine, token, "11111111111", "Rossi Costruzioni")
	createReport(t, engine, token, "11111111111", "Rossi Costruzioni")
	createReport(t, engine, token, "22222222222", "Bianchi Trasporti")

	doJSON(t, engine, http.MethodPost, "/reports/"+first+"/complete?secret="+testCallbackSecret, "", map[string]any{
		"status":  "completed",
		"payload": map[string]any{"version": 1, "riskScore": 10, "riskCategory": "low"},
	})

	rec := doJSON(t, engine, http.MethodGet, "/stats", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSON(t, rec)

	summary, _ := body["summary"].(map[string]any)
	if summary["totalReports"] != float64(3) {
		t.Fatalf("expected 3 total reports, got %v", summary["totalReports"])
	}
	if summary["processingNow"] != float64(2) {
		t.Fatalf("expected 2 processing, got %v", summary["processingNow"])
	}

	byStatus, _ := body["byStatus"].(map[string]any)
	if byStatus["completed"] != float64(1) {
		t.Fatalf("expected 1 completed, got %v", byStatus["completed"])
	}
	if byStatus["failed"] != float64(0) {
		t.Fatalf("expected 0 failed, got %v", byStatus["failed"])
	}

	top, _ := body["topCompanies"].([]any)
	if len(top) != 2 {
		t.Fatalf("expected 2 top companies, got %d", len(top))
	}
	leader, _ := top[0].(map[string]any)
	if leader["reportCount"] != float64(2) {
		t.Fatalf("expected leader with 2 reports, got %v", leader)
	}

	activity := doJSON(t, engine, http.MethodGet, "/stats/activity?days=7", token, nil)
	if activity.Code != http.StatusOK {
		t.Fatalf("activity: expected 200, got %d", activity.Code)
	}
	rows, _ := decodeJSON(t, activity)["activity"].([]any)
	if len(rows) != 3 {
		t.Fatalf("activity: expected 3 rows, got %d", len(rows))
	}
}

func TestHealthz(t *testing.T) {
	engine := newTestServer(t)
	rec := doJSON(t, engine, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}
}
