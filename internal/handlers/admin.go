// Package handlers exposes the admin HTTP surface: manual runs, store
// statistics, the change audit trail and operator management.
package handlers

import (
	"net/http"
	"strconv"

	"auction-tracker/internal/config"
	"auction-tracker/internal/database"
	"auction-tracker/internal/scheduler"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// AdminHandler serves the operational endpoints.
type AdminHandler struct {
	db    *database.DB
	cfg   *config.Config
	sched *scheduler.Scheduler
}

func NewAdminHandler(db *database.DB, cfg *config.Config, sched *scheduler.Scheduler) *AdminHandler {
	return &AdminHandler{db: db, cfg: cfg, sched: sched}
}

// NewRouter builds the gin engine with CORS and the admin routes.
func NewRouter(h *AdminHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(corsConfig))

	api := r.Group("/api")
	{
		api.POST("/run", h.TriggerRun)
		api.GET("/stats", h.GetStats)
		api.GET("/changes", h.GetChanges)
		api.GET("/operators", h.GetOperators)
		api.POST("/operators", h.SetOperators)
	}
	return r
}

// TriggerRun starts a pipeline run unless one is already in flight.
func (h *AdminHandler) TriggerRun(c *gin.Context) {
	if h.sched.TriggerNow() {
		c.JSON(http.StatusAccepted, gin.H{"status": "started"})
		return
	}
	c.JSON(http.StatusConflict, gin.H{"status": "busy", "error": "a run is already in progress"})
}

// GetStats returns row counts for the store.
func (h *AdminHandler) GetStats(c *gin.Context) {
	stats, err := h.db.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetChanges returns the latest reconciler-detected changes, newest first.
// ?limit=N caps the result, default 50.
func (h *AdminHandler) GetChanges(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	changes, err := h.db.RecentChanges(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes, "count": len(changes)})
}

// GetOperators returns the advisory recipient list.
func (h *AdminHandler) GetOperators(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"operators": h.cfg.Operators()})
}

// SetOperators replaces the advisory recipient list and persists it.
func (h *AdminHandler) SetOperators(c *gin.Context) {
	var req struct {
		Operators []int64 `json:"operators" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.cfg.SetOperators(req.Operators); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"operators": req.Operators})
}
