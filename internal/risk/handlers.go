package risk

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openidx/loginrisk/internal/anomaly"
	apperrors "github.com/openidx/loginrisk/internal/common/errors"
)

// EvaluateRequest is a login attempt submitted for scoring. IP defaults to
// the client address. Hour is the user's local hour; when it is omitted the
// hour of OccurredAt is used in the offset OccurredAt was sent with, and
// with no OccurredAt either that is the server's current UTC hour.
type EvaluateRequest struct {
	Username        string         `json:"username" binding:"required"`
	PasswordCorrect bool           `json:"password_correct"`
	Fingerprint     *Fingerprint   `json:"fingerprint"`
	Typing          *TypingMetrics `json:"typing_metrics"`
	IP              string         `json:"ip"`
	Device          string         `json:"device"`
	DeviceType      string         `json:"device_type"`
	GeoLabel        string         `json:"geo_label"`
	RegionCode      string         `json:"region_code"`
	Attempts        int            `json:"attempts" binding:"min=0,max=1000"`
	Hour            *int           `json:"hour" binding:"omitempty,min=0,max=23"`
	OccurredAt      *time.Time     `json:"occurred_at"`
}

// EvaluateResponse is what the authenticating client sees. It never carries
// the hidden reason or the factor breakdown.
type EvaluateResponse struct {
	AttemptID   string    `json:"attempt_id"`
	Score       int       `json:"score"`
	Level       RiskLevel `json:"level"`
	Decision    Decision  `json:"decision"`
	RequiresOTP bool      `json:"requires_otp"`
	Success     bool      `json:"success"`
	Explanation string    `json:"explanation"`
}

// ModelStatusResponse is the admin model dashboard view
type ModelStatusResponse struct {
	State              *anomaly.State `json:"state"`
	RetainedSamples    int            `json:"retained_samples"`
	MinTrainingSamples int            `json:"min_training_samples"`
	RetrainThreshold   int            `json:"retrain_threshold"`
}

// Handler serves the risk API
type Handler struct {
	engine *Engine
	logger *zap.Logger
}

// NewHandler creates the HTTP handler for engine
func NewHandler(engine *Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, logger: logger.With(zap.String("component", "risk_handler"))}
}

// RegisterRoutes registers the evaluation routes and, behind admin, the
// admin routes.
func RegisterRoutes(router gin.IRouter, h *Handler, admin ...gin.HandlerFunc) {
	api := router.Group("/api/v1/risk")
	{
		api.POST("/evaluate", h.handleEvaluate)
		api.POST("/calculate", h.handleCalculate)
	}

	adm := router.Group("/api/v1/admin/risk", admin...)
	{
		adm.GET("/attempts", h.handleListAttempts)

		adm.GET("/rules", h.handleGetRules)
		adm.PUT("/rules", h.handleUpdateRules)

		adm.GET("/model", h.handleModelStatus)
		adm.GET("/model/export", h.handleModelExport)
		adm.POST("/model/retrain", h.handleRetrain)

		adm.GET("/baselines/:username", h.handleGetBaseline)
		adm.PUT("/baselines/:username", h.handleUpdateBaseline)
	}
}

func (h *Handler) bindEvent(c *gin.Context) (LoginEvent, bool) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.ValidationError("invalid request body: "+err.Error()))
		return LoginEvent{}, false
	}

	event := LoginEvent{
		Username:        req.Username,
		PasswordCorrect: req.PasswordCorrect,
		Fingerprint:     req.Fingerprint,
		Typing:          req.Typing,
		IP:              req.IP,
		Device:          req.Device,
		DeviceType:      req.DeviceType,
		GeoLabel:        req.GeoLabel,
		RegionCode:      req.RegionCode,
		Attempts:        req.Attempts,
		OccurredAt:      time.Now().UTC(),
	}
	if req.OccurredAt != nil {
		event.OccurredAt = *req.OccurredAt
	}
	if event.IP == "" {
		event.IP = c.ClientIP()
	}
	if req.Hour != nil {
		event.Hour = *req.Hour
	} else {
		event.Hour = event.OccurredAt.Hour()
	}
	return event, true
}

// handleEvaluate handles POST /api/v1/risk/evaluate
func (h *Handler) handleEvaluate(c *gin.Context) {
	event, ok := h.bindEvent(c)
	if !ok {
		return
	}

	attempt, err := h.engine.Assess(c.Request.Context(), event)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, EvaluateResponse{
		AttemptID:   attempt.ID,
		Score:       attempt.Score,
		Level:       attempt.Level,
		Decision:    attempt.Decision,
		RequiresOTP: attempt.RequiresOTP,
		Success:     attempt.Success,
		Explanation: attempt.Reason,
	})
}

// handleCalculate handles POST /api/v1/risk/calculate
func (h *Handler) handleCalculate(c *gin.Context) {
	event, ok := h.bindEvent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.engine.Calculate(c.Request.Context(), event))
}

// handleListAttempts handles GET /api/v1/admin/risk/attempts
func (h *Handler) handleListAttempts(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			apperrors.HandleError(c, apperrors.ValidationError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	attempts, err := h.engine.RecentAttempts(c.Request.Context(), c.Query("username"), limit)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts, "count": len(attempts)})
}

func (h *Handler) handleGetRules(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Rules(c.Request.Context()))
}

func (h *Handler) handleUpdateRules(c *gin.Context) {
	var rules SecurityRules
	if err := c.ShouldBindJSON(&rules); err != nil {
		apperrors.HandleError(c, apperrors.ValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := h.engine.UpdateRules(c.Request.Context(), c.GetString("subject"), rules); err != nil {
		apperrors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *Handler) handleModelStatus(c *gin.Context) {
	cfg := h.engine.model.Config()
	c.JSON(http.StatusOK, ModelStatusResponse{
		State:              h.engine.ModelState(),
		RetainedSamples:    len(h.engine.model.Samples()),
		MinTrainingSamples: cfg.MinSamples,
		RetrainThreshold:   cfg.RetrainThreshold,
	})
}

func (h *Handler) handleModelExport(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.ModelExport())
}

func (h *Handler) handleRetrain(c *gin.Context) {
	state, err := h.engine.Retrain(c.Request.Context())
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}
	h.logger.Info("Manual model retrain",
		zap.String("actor", c.GetString("subject")),
		zap.Int("version", state.Version))
	c.JSON(http.StatusOK, state)
}

func (h *Handler) handleGetBaseline(c *gin.Context) {
	b, err := h.engine.Baseline(c.Request.Context(), c.Param("username"))
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}
	if b == nil {
		apperrors.HandleError(c, apperrors.NotFound("baseline"))
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) handleUpdateBaseline(c *gin.Context) {
	var b UserBaseline
	if err := c.ShouldBindJSON(&b); err != nil {
		apperrors.HandleError(c, apperrors.ValidationError("invalid request body: "+err.Error()))
		return
	}
	username := c.Param("username")
	if err := h.engine.UpdateBaseline(c.Request.Context(), c.GetString("subject"), username, b); err != nil {
		apperrors.HandleError(c, err)
		return
	}

	stored, err := h.engine.Baseline(c.Request.Context(), username)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}
