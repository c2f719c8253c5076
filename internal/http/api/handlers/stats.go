package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	dbutil "github.com/reportdesk/reportdesk/internal/db"
	"github.com/reportdesk/reportdesk/internal/models"
)

// StatsHandler aggregates report statistics for the authenticated user.
type StatsHandler struct {
	db *gorm.DB
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(db *gorm.DB) *StatsHandler {
	return &StatsHandler{db: db}
}

// Summary returns counts, per-status breakdown, top companies, and the
// per-day activity of the last week. Time boundaries are computed here in
// UTC so the queries stay portable across dialects.
func (h *StatsHandler) Summary(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	ctx := c.Request.Context()
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	weekAgo := now.AddDate(0, 0, -7)

	base := func() *gorm.DB {
		return h.db.WithContext(ctx).Model(&models.Report{}).Where("user_id = ?", userID)
	}

	var total, thisMonth, completedThisMonth, failedLastWeek, processingNow int64
	if errCount := base().Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	if errCount := base().Where("created_at >= ?", monthStart).Count(&thisMonth).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	if errCount := base().Where("status = ? AND completed_at >= ?", models.ReportStatusCompleted, monthStart).
		Count(&completedThisMonth).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	if errCount := base().Where("status = ? AND created_at >= ?", models.ReportStatusFailed, weekAgo).
		Count(&failedLastWeek).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	if errCount := base().Where("status = ?", models.ReportStatusProcessing).
		Count(&processingNow).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}

	var avgMinutes *float64
	errAvg := base().
		Where("status = ? AND completed_at IS NOT NULL", models.ReportStatusCompleted).
		Select("AVG(" + dbutil.MinutesBetweenExpr(h.db, "completed_at", "created_at") + ")").
		Scan(&avgMinutes).Error
	if errAvg != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}

	type statusCount struct {
		Status string
		Count  int64
	}
	var statusRows []statusCount
	if errGroup := base().Select("status, COUNT(*) AS count").Group("status").
		Scan(&statusRows).Error; errGroup != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	byStatus := gin.H{
		models.ReportStatusProcessing: int64(0),
		models.ReportStatusCompleted:  int64(0),
		models.ReportStatusFailed:     int64(0),
	}
	for _, row := range statusRows {
		byStatus[row.Status] = row.Count
	}

	type topCompanyRow struct {
		Name       string
		TaxID      string `gorm:"column:tax_id"`
		Count      int64
		LastReport time.Time `gorm:"column:last_report"`
	}
	var topRows []topCompanyRow
	errTop := h.db.WithContext(ctx).Model(&models.Report{}).
		Joins("JOIN companies ON companies.id = reports.company_id").
		Where("reports.user_id = ?", userID).
		Select("companies.name AS name, companies.tax_id AS tax_id, COUNT(*) AS count, MAX(reports.created_at) AS last_report").
		Group("companies.id, companies.name, companies.tax_id").
		Order("count DESC, last_report DESC").
		Limit(10).
		Scan(&topRows).Error
	if errTop != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	topCompanies := make([]gin.H, 0, len(topRows))
	for _, row := range topRows {
		topCompanies = append(topCompanies, gin.H{
			"name":        row.Name,
			"taxId":       row.TaxID,
			"reportCount": row.Count,
			"lastReport":  row.LastReport.UTC().Format(time.RFC3339),
		})
	}

	type dayCount struct {
		Day   string
		Count int64
	}
	var dayRows []dayCount
	errDays := base().
		Where("created_at >= ?", weekAgo).
		Select(dbutil.DateExpr(h.db, "created_at") + " AS day, COUNT(*) AS count").
		Group("day").
		Order("day ASC").
		Scan(&dayRows).Error
	if errDays != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	recentActivity := make([]gin.H, 0, len(dayRows))
	for _, row := range dayRows {
		recentActivity = append(recentActivity, gin.H{"date": row.Day, "count": row.Count})
	}

	summary := gin.H{
		"totalReports":       total,
		"reportsThisMonth":   thisMonth,
		"completedThisMonth": completedThisMonth,
		"failedLastWeek":     failedLastWeek,
		"processingNow":      processingNow,
	}
	if avgMinutes != nil {
		summary["avgCompletionMinutes"] = *avgMinutes
	} else {
		summary["avgCompletionMinutes"] = nil
	}

	c.JSON(http.StatusOK, gin.H{
		"summary":        summary,
		"byStatus":       byStatus,
		"topCompanies":   topCompanies,
		"recentActivity": recentActivity,
	})
}

// Activity paging bounds.
const (
	activityDefaultDays = 30
	activityMaxRows     = 100
)

// Activity returns the caller's recent report timeline.
func (h *StatsHandler) Activity(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	days := activityDefaultDays
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		if v, errParse := strconv.Atoi(raw); errParse == nil && v > 0 {
			days = v
		}
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	var rows []struct {
		models.Report
		CompanyName string `gorm:"column:company_name"`
	}
	errFind := h.db.WithContext(c.Request.Context()).Model(&models.Report{}).
		Joins("JOIN companies ON companies.id = reports.company_id").
		Where("reports.user_id = ? AND reports.created_at >= ?", userID, since).
		Select("reports.*, companies.name AS company_name").
		Order("reports.created_at DESC").
		Limit(activityMaxRows).
		Find(&rows).Error
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "activity failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		out = append(out, gin.H{
			"reportId":    r.ID,
			"companyName": r.CompanyName,
			"status":      r.Status,
			"createdAt":   r.CreatedAt.UTC().Format(time.RFC3339),
			"completedAt": timePtrJSON(r.CompletedAt),
		})
	}
	c.JSON(http.StatusOK, gin.H{"activity": out, "days": days})
}
