package sweep_api

import (
	"fmt"
	"net/http"

	"ms-grouping/internal/logger"
	"ms-grouping/internal/sweep"
	"ms-grouping/internal/utils"

	"github.com/gin-gonic/gin"
)

// Handler is the sweep worker's admin surface: a liveness probe and a manual
// sweep trigger for operators who do not want to wait out the ticker.
type Handler struct {
	Sweeper *sweep.Sweeper
	Logger  *logger.Logger
}

func NewHandler(sweeper *sweep.Sweeper, log *logger.Logger) *Handler {
	return &Handler{Sweeper: sweeper, Logger: log}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.Healthz)
	r.POST("/admin/sweep", h.TriggerSweep)
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) TriggerSweep(c *gin.Context) {
	h.Logger.Info("SWEEP_API", "Manual sweep triggered")

	report, err := h.Sweeper.RunOnce(c.Request.Context())
	if err != nil {
		h.Logger.Error("SWEEP_API", fmt.Sprintf("Manual sweep failed: %v", err))
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse("Sweep failed", err.Error()))
		return
	}

	h.Logger.Info("SWEEP_API", fmt.Sprintf("Manual sweep done: %d expired, %d closed",
		report.ExpiredSmartGroups, report.ClosedBookings))
	c.JSON(http.StatusOK, utils.SuccessResponse("Sweep completed", report))
}
