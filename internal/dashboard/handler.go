package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"schoolgate/internal/attendance"
	"schoolgate/internal/auth"
	"schoolgate/internal/stats"
	"schoolgate/internal/tenant"
)

// Handler serves the dashboard read endpoints. All routes sit behind the
// bearer middleware; school scoping is re-checked per request.
type Handler struct {
	engine  *stats.Engine
	repo    *attendance.Repository
	tenants *tenant.Repository
	log     *zap.Logger
	now     func() time.Time
}

// NewHandler wires the dashboard reads.
func NewHandler(engine *stats.Engine, repo *attendance.Repository, tenants *tenant.Repository, log *zap.Logger) *Handler {
	return &Handler{engine: engine, repo: repo, tenants: tenants, log: log, now: time.Now}
}

// Register mounts the dashboard routes on an authenticated group.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/v1/schools/:schoolID/dashboard", h.Dashboard)
	r.GET("/v1/schools/:schoolID/students/today", h.StudentsToday)
}

// Dashboard returns today's snapshot plus a trailing range summary.
// range selects the number of past days, default 7, capped at 90.
// includeWeekly=true attaches the seven-day trend to the snapshot.
func (h *Handler) Dashboard(c *gin.Context) {
	claims, ok := auth.FromContext(c)
	if !ok || !auth.RequireSchool(c, claims) {
		return
	}
	schoolID := c.Param("schoolID")

	days := 7
	if v, err := strconv.Atoi(c.Query("range")); err == nil && v > 0 {
		days = v
	}
	if days > 90 {
		days = 90
	}

	includeWeekly, _ := strconv.ParseBool(c.Query("includeWeekly"))
	snap, err := h.engine.SchoolSnapshot(c.Request.Context(), schoolID, stats.ParseScope(c.Query("scope")), includeWeekly)
	if err != nil {
		h.fail(c, "snapshot failed", err)
		return
	}

	school, err := h.tenants.GetSchool(c.Request.Context(), schoolID)
	if err != nil || school == nil {
		h.fail(c, "school lookup failed", err)
		return
	}
	zone := attendance.LoadZone(school.Timezone)
	to := attendance.DateOnlyInZone(h.now(), zone)
	from := to.AddDate(0, 0, -(days - 1))

	history, err := h.engine.Range(c.Request.Context(), schoolID, from, to)
	if err != nil {
		h.fail(c, "range stats failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"today": snap, "history": history})
}

// StudentsToday lists every active student with the effective status a
// dashboard would show right now. Stored statuses pass through; students
// with no scan are projected against their class schedule.
func (h *Handler) StudentsToday(c *gin.Context) {
	claims, ok := auth.FromContext(c)
	if !ok || !auth.RequireSchool(c, claims) {
		return
	}
	schoolID := c.Param("schoolID")

	school, err := h.tenants.GetSchool(c.Request.Context(), schoolID)
	if err != nil {
		h.fail(c, "school lookup failed", err)
		return
	}
	if school == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown school"})
		return
	}

	zone := attendance.LoadZone(school.Timezone)
	now := h.now()
	date := attendance.DateOnlyInZone(now, zone)
	nowMinutes := attendance.MinutesInZone(now, zone)

	rows, err := h.repo.StudentsForDay(c.Request.Context(), schoolID, date)
	if err != nil {
		h.fail(c, "student listing failed", err)
		return
	}

	type studentRow struct {
		StudentID string `json:"studentId"`
		Name      string `json:"name"`
		ClassName string `json:"className,omitempty"`
		Status    string `json:"status"`
	}
	out := make([]studentRow, 0, len(rows))
	for _, row := range rows {
		effective := attendance.Project(row.Status, row.ClassStartTime, school.AbsenceCutoffMinutes, nowMinutes)
		out = append(out, studentRow{
			StudentID: row.StudentID,
			Name:      row.Name,
			ClassName: row.ClassName,
			Status:    string(effective),
		})
	}

	c.JSON(http.StatusOK, gin.H{"date": date.Format("2006-01-02"), "students": out})
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	h.log.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
