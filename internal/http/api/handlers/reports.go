package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	dbutil "github.com/reportdesk/reportdesk/internal/db"
	"github.com/reportdesk/reportdesk/internal/metrics"
	"github.com/reportdesk/reportdesk/internal/models"
	"github.com/reportdesk/reportdesk/internal/store"
	"github.com/reportdesk/reportdesk/internal/workflow"
)

// ReportHandler manages the report lifecycle endpoints.
type ReportHandler struct {
	store      *store.Store
	dispatcher *workflow.Dispatcher
	metrics    *metrics.Metrics
}

// NewReportHandler constructs a ReportHandler.
func NewReportHandler(st *store.Store, dispatcher *workflow.Dispatcher, m *metrics.Metrics) *ReportHandler {
	return &ReportHandler{store: st, dispatcher: dispatcher, metrics: m}
}

// createReportRequest defines the request body for requesting a report.
// Either companyId references an existing company, or taxId plus companyName
// describe one to resolve lazily.
type createReportRequest struct {
	CompanyID   string `json:"companyId"`
	TaxID       string `json:"taxId"`
	CompanyName string `json:"companyName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
}

// Create requests a new report. The report row and its outbox entry are
// written together; the workflow notification then runs asynchronously so a
// slow webhook never delays the response.
func (h *ReportHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var body createReportRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var company *models.Company
	if companyID := strings.TrimSpace(body.CompanyID); companyID != "" {
		var existing models.Company
		errFind := h.store.DB().WithContext(c.Request.Context()).
			Where("id = ?", companyID).First(&existing).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "company not found"})
			return
		}
		if errFind != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve company failed"})
			return
		}
		company = &existing
	} else {
		taxID := strings.TrimSpace(body.TaxID)
		if !taxIDPattern.MatchString(taxID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tax id must be exactly 11 digits"})
			return
		}
		name := strings.TrimSpace(body.CompanyName)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing company name"})
			return
		}
		resolved, _, errUpsert := h.store.UpsertCompany(c.Request.Context(), store.CompanyInput{
			TaxID:     taxID,
			Name:      name,
			Email:     strings.TrimSpace(body.Email),
			Phone:     strings.TrimSpace(body.Phone),
			CreatedBy: userID,
		})
		if errUpsert != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve company failed"})
			return
		}
		company = resolved
	}

	report := models.Report{
		ID:        store.NewReportID(),
		CompanyID: company.ID,
		UserID:    userID,
		Status:    models.ReportStatusProcessing,
		CreatedAt: time.Now().UTC(),
	}

	payload, errPayload := h.dispatcher.BuildPayload(report.ID, company.TaxID, company.Name, company.Email, company.Phone)
	if errPayload != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "build notification failed"})
		return
	}
	if errCreate := h.store.CreateReport(c.Request.Context(), &report, payload); errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create report failed"})
		return
	}

	if h.metrics != nil {
		h.metrics.ReportsCreated.Inc()
	}
	log.WithFields(log.Fields{"report_id": report.ID, "tax_id": company.TaxID}).Info("report requested")
	h.dispatcher.NotifyAsync(report.ID)

	c.JSON(http.StatusCreated, gin.H{
		"reportId":  report.ID,
		"status":    report.Status,
		"createdAt": report.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// Report list paging bounds.
const (
	reportListDefaultLimit = 50
	reportListMaxLimit     = 100
)

// myReportRow carries a report row joined with its company and the risk
// fields extracted from the payload.
type myReportRow struct {
	models.Report
	CompanyName  string  `gorm:"column:company_name"`
	CompanyTaxID string  `gorm:"column:company_tax_id"`
	RiskScore    *string `gorm:"column:risk_score"`
	RiskCategory *string `gorm:"column:risk_category"`
}

// ListMine returns the caller's reports with conjunctive filters and
// pagination.
func (h *ReportHandler) ListMine(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var (
		statusQ = strings.TrimSpace(c.Query("status"))
		searchQ = strings.TrimSpace(c.Query("search"))
		fromQ   = strings.TrimSpace(c.Query("from"))
		toQ     = strings.TrimSpace(c.Query("to"))
	)

	limit := reportListDefaultLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if v, errParse := strconv.Atoi(raw); errParse == nil && v > 0 {
			limit = v
		}
	}
	if limit > reportListMaxLimit {
		limit = reportListMaxLimit
	}
	offset := 0
	if raw := strings.TrimSpace(c.Query("offset")); raw != "" {
		if v, errParse := strconv.Atoi(raw); errParse == nil && v > 0 {
			offset = v
		}
	}

	conn := h.store.DB()
	q := conn.WithContext(c.Request.Context()).Model(&models.Report{}).
		Joins("JOIN companies ON companies.id = reports.company_id").
		Where("reports.user_id = ?", userID)
	if statusQ != "" {
		q = q.Where("reports.status = ?", statusQ)
	}
	if searchQ != "" {
		pattern := "%" + searchQ + "%"
		ciPattern := dbutil.NormalizeLikePattern(conn, pattern)
		q = q.Where(
			dbutil.CaseInsensitiveLikeExpr(conn, "companies.name")+" OR companies.tax_id LIKE ?",
			ciPattern,
			pattern,
		)
	}
	if from, okFrom := parseDayBound(fromQ, false); okFrom {
		q = q.Where("reports.created_at >= ?", from)
	}
	if to, okTo := parseDayBound(toQ, true); okTo {
		q = q.Where("reports.created_at <= ?", to)
	}

	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count reports failed"})
		return
	}

	var rows []myReportRow
	errFind := q.
		Select("reports.*, companies.name AS company_name, companies.tax_id AS company_tax_id, " +
			dbutil.JSONExtractTextExpr(conn, "reports.payload", "riskScore") + " AS risk_score, " +
			dbutil.JSONExtractTextExpr(conn, "reports.payload", "riskCategory") + " AS risk_category").
		Order("reports.created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list reports failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		entry := gin.H{
			"reportId":     r.ID,
			"status":       r.Status,
			"companyName":  r.CompanyName,
			"taxId":        r.CompanyTaxID,
			"createdAt":    r.CreatedAt.UTC().Format(time.RFC3339),
			"completedAt":  timePtrJSON(r.CompletedAt),
			"riskScore":    riskScoreJSON(r.RiskScore),
			"riskCategory": stringPtrJSON(r.RiskCategory),
		}
		if r.Status == models.ReportStatusFailed {
			entry["errorMessage"] = r.ErrorMessage
		}
		out = append(out, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"reports": out,
		"pagination": gin.H{
			"total":   total,
			"limit":   limit,
			"offset":  offset,
			"hasMore": int64(offset+len(out)) < total,
		},
	})
}

// Get returns one of the caller's reports in full, payload included.
func (h *ReportHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	report, errGet := h.store.GetOwnedReport(c.Request.Context(), c.Param("id"), userID)
	if errGet != nil {
		writeStoreError(c, errGet, "report not found")
		return
	}

	entry := gin.H{
		"reportId":     report.ID,
		"status":       report.Status,
		"createdAt":    report.CreatedAt.UTC().Format(time.RFC3339),
		"completedAt":  timePtrJSON(report.CompletedAt),
		"errorMessage": report.ErrorMessage,
	}
	if report.Company != nil {
		entry["companyName"] = report.Company.Name
		entry["taxId"] = report.Company.TaxID
		entry["companyId"] = report.Company.ID
	}
	if len(report.Payload) > 0 {
		entry["payload"] = json.RawMessage(report.Payload)
	} else {
		entry["payload"] = nil
	}
	c.JSON(http.StatusOK, entry)
}

// completeReportRequest defines the callback body the workflow engine posts
// back when a report reaches a terminal state.
type completeReportRequest struct {
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error"`
}

// Complete finalizes a report from the workflow callback. The transition out
// of processing happens exactly once; repeated callbacks get 409.
func (h *ReportHandler) Complete(c *gin.Context) {
	if !h.dispatcher.VerifyCallbackSecret(c.Query("secret")) {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid callback secret"})
		return
	}

	var body completeReportRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	status := strings.TrimSpace(body.Status)
	if !models.IsTerminal(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be completed or failed"})
		return
	}

	// The payload is stored verbatim, but its common fields must decode so
	// list extraction and downstream readers can rely on them.
	var parsedPayload *models.ReportPayload
	if len(body.Payload) > 0 {
		var errParse error
		parsedPayload, errParse = models.ParseReportPayload(body.Payload)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload does not match the report contract"})
			return
		}
	}

	report, errComplete := h.store.CompleteReport(c.Request.Context(), c.Param("id"), status, body.Payload, strings.TrimSpace(body.Error))
	if errComplete != nil {
		writeStoreError(c, errComplete, "report not found")
		return
	}

	if h.metrics != nil {
		h.metrics.ReportsCompleted.WithLabelValues(status).Inc()
	}
	fields := log.Fields{"report_id": report.ID, "status": status}
	if parsedPayload != nil {
		fields["risk_score"] = parsedPayload.RiskScore
		fields["risk_category"] = parsedPayload.RiskCategory
	}
	log.WithFields(fields).Info("report finalized")

	c.JSON(http.StatusOK, gin.H{
		"reportId":    report.ID,
		"status":      report.Status,
		"completedAt": timePtrJSON(report.CompletedAt),
	})
}

// Delete removes one of the caller's reports.
func (h *ReportHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	reportID := c.Param("id")
	if errDelete := h.store.DeleteOwnedReport(c.Request.Context(), reportID, userID); errDelete != nil {
		writeStoreError(c, errDelete, "report not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reportId": reportID})
}

// parseDayBound parses a date filter. A bare day expands to the start or end
// of that day in UTC depending on endOfDay.
func parseDayBound(raw string, endOfDay bool) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if t, errParse := time.Parse(time.RFC3339, raw); errParse == nil {
		return t.UTC(), true
	}
	day, errParse := time.Parse("2006-01-02", raw)
	if errParse != nil {
		return time.Time{}, false
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Nanosecond).UTC(), true
	}
	return day.UTC(), true
}

// riskScoreJSON renders the extracted risk score as a number, null when the
// payload carries none.
func riskScoreJSON(raw *string) any {
	if raw == nil || *raw == "" {
		return nil
	}
	if v, errParse := strconv.ParseFloat(*raw, 64); errParse == nil {
		return v
	}
	return nil
}

// stringPtrJSON renders an optional extracted text field.
func stringPtrJSON(raw *string) any {
	if raw == nil || *raw == "" {
		return nil
	}
	return *raw
}
