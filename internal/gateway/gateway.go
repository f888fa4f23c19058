// Package gateway exposes the orchestrator over HTTP: workflow intake, step
// execution, escalation, checkpoints, completion and a websocket timeline
// feed for monitoring dashboards.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mindhaven/crisisflow/internal/auth"
	"github.com/mindhaven/crisisflow/internal/crisis"
	"github.com/mindhaven/crisisflow/internal/logging"
	"github.com/mindhaven/crisisflow/internal/orchestrator"
	"github.com/mindhaven/crisisflow/internal/store"
)

// Config holds gateway configuration.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// Gateway is the HTTP front end.
type Gateway struct {
	router      *gin.Engine
	orch        *orchestrator.Orchestrator
	auth        *auth.Service
	feed        *Feed
	rateLimiter *rateLimiter
	log         *logging.Logger
	cfg         Config
	srv         *http.Server
}

// New builds the gateway. feed may be nil when no event bus is wired.
func New(cfg Config, orch *orchestrator.Orchestrator, authSvc *auth.Service, feed *Feed, log *logging.Logger) *Gateway {
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 120
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	gin.SetMode(gin.ReleaseMode)
	g := &Gateway{
		router: gin.New(),
		orch:   orch,
		auth:   authSvc,
		feed:   feed,
		rateLimiter: &rateLimiter{
			requests: make(map[string][]time.Time),
			limit:    cfg.RateLimitMax,
			window:   cfg.RateLimitWindow,
		},
		log: log.Component("gateway"),
		cfg: cfg,
	}
	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(gin.Recovery())
	g.router.Use(g.rateLimitMiddleware())
	g.router.Use(g.correlationMiddleware())

	g.router.GET("/health", g.healthCheck)

	v1 := g.router.Group("/api/v1", g.authMiddleware())
	{
		v1.POST("/workflows", g.initiateWorkflow)
		v1.GET("/workflows/:id", g.getWorkflow)
		v1.POST("/workflows/:id/steps/:step_id/execute", g.executeStep)
		v1.POST("/workflows/:id/steps/:step_id/skip", g.skipStep)
		v1.POST("/workflows/:id/escalate", g.escalateWorkflow)
		v1.POST("/workflows/:id/checkpoints/:checkpoint_id", g.recordCheckpoint)
		v1.POST("/workflows/:id/complete", g.completeWorkflow)
		v1.GET("/ws", g.handleWebSocket)
	}
}

// Start runs the HTTP server until Shutdown.
func (g *Gateway) Start() error {
	g.srv = &http.Server{
		Addr:         g.cfg.Addr,
		Handler:      g.router,
		ReadTimeout:  g.cfg.ReadTimeout,
		WriteTimeout: g.cfg.WriteTimeout,
	}
	return g.srv.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.srv == nil {
		return nil
	}
	return g.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (g *Gateway) Handler() http.Handler { return g.router }

// Middleware

func (g *Gateway) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		claims, err := g.auth.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

func (g *Gateway) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (g *Gateway) correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

// Handlers

func (g *Gateway) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type initiateRequest struct {
	SubjectID  string                `json:"subject_id" binding:"required"`
	Assessment crisis.RiskAssessment `json:"assessment" binding:"required"`
}

func (g *Gateway) initiateWorkflow(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	wf, err := g.orch.Initiate(c.Request.Context(), req.SubjectID, req.Assessment)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, wf)
}

func (g *Gateway) getWorkflow(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	wf, err := g.orch.Get(c.Request.Context(), id)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (g *Gateway) executeStep(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	stepID, ok := parseID(c, "step_id")
	if !ok {
		return
	}
	if err := g.orch.ExecuteStep(c.Request.Context(), id, stepID); err != nil {
		g.writeError(c, err)
		return
	}
	wf, err := g.orch.Get(c.Request.Context(), id)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

type skipRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (g *Gateway) skipStep(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	stepID, ok := parseID(c, "step_id")
	if !ok {
		return
	}
	var req skipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	claims := c.MustGet("claims").(*auth.Claims)
	if err := g.orch.SkipStep(c.Request.Context(), id, stepID, claims.UserID, req.Reason); err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "step skipped"})
}

type escalateRequest struct {
	Reason string `json:"reason"`
	Target string `json:"target"`
}

func (g *Gateway) escalateWorkflow(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req escalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var target *crisis.SeverityTier
	if req.Target != "" {
		tier := crisis.SeverityTier(req.Target)
		if tier.Rank() < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown severity tier"})
			return
		}
		// Jumping straight to an arbitrary tier is a supervisor override.
		claims := c.MustGet("claims").(*auth.Claims)
		if !claims.Supervisor() {
			c.JSON(http.StatusForbidden, gin.H{"error": "explicit severity target requires the supervisor role"})
			return
		}
		target = &tier
	}

	res, err := g.orch.Escalate(c.Request.Context(), id, req.Reason, target)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"applied":    res.Applied,
		"at_ceiling": res.AtCeiling,
		"from":       res.From,
		"to":         res.To,
		"injected":   len(res.Injected),
	})
}

type checkpointRequest struct {
	Trend  string `json:"trend" binding:"required"`
	Safety string `json:"safety" binding:"required"`
	Notes  string `json:"notes"`
}

func (g *Gateway) recordCheckpoint(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	checkpointID, ok := parseID(c, "checkpoint_id")
	if !ok {
		return
	}
	var req checkpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	claims := c.MustGet("claims").(*auth.Claims)
	findings := crisis.Findings{
		Trend:      crisis.RiskTrend(req.Trend),
		Safety:     crisis.SafetyStatus(req.Safety),
		Notes:      req.Notes,
		RecordedBy: claims.UserID,
	}
	if err := g.orch.RecordCheckpoint(c.Request.Context(), id, checkpointID, findings); err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "checkpoint recorded"})
}

type completeRequest struct {
	Kind             string `json:"kind" binding:"required"`
	Description      string `json:"description"`
	FollowUpRequired bool   `json:"follow_up_required"`
	FollowUpAfter    string `json:"follow_up_after"`
}

func (g *Gateway) completeWorkflow(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var after time.Duration
	if req.FollowUpAfter != "" {
		d, err := time.ParseDuration(req.FollowUpAfter)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid follow_up_after duration"})
			return
		}
		after = d
	}

	claims := c.MustGet("claims").(*auth.Claims)
	wf, err := g.orch.Complete(c.Request.Context(), id, crisis.Outcome{
		Kind:             req.Kind,
		Description:      req.Description,
		FollowUpRequired: req.FollowUpRequired,
		FollowUpAfter:    after,
		RecordedBy:       claims.UserID,
	})
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (g *Gateway) handleWebSocket(c *gin.Context) {
	if g.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "timeline feed not available"})
		return
	}
	g.feed.Attach(c)
}

// writeError maps domain errors onto HTTP status codes.
func (g *Gateway) writeError(c *gin.Context, err error) {
	var vErr *crisis.ValidationError
	var preErr *orchestrator.PrerequisiteNotMetError
	var persistErr *orchestrator.PersistenceError

	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error()})
	case errors.As(err, &preErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":   preErr.Error(),
			"missing": preErr.Missing,
		})
	case errors.Is(err, orchestrator.ErrStepNotRunnable),
		errors.Is(err, orchestrator.ErrCheckpointRecorded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrNotFound),
		errors.Is(err, orchestrator.ErrStepNotFound),
		errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &persistErr):
		g.log.Error("persistence failure", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "storage unavailable"})
	default:
		g.log.Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return uuid.Nil, false
	}
	return id, true
}

// rateLimiter is a simple fixed-window per-IP limiter.
type rateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// Allow reports whether a request from key fits inside the window.
func (rl *rateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	valid := rl.requests[key][:0]
	for _, t := range rl.requests[key] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}
	rl.requests[key] = append(valid, now)
	return true
}
