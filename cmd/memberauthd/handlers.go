package main

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/denden/memberauth"
	"github.com/denden/memberauth/metrics/export/prometheus"
)

func newRouter(engine *memberauth.Engine, logger *slog.Logger) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	h := &handlers{engine: engine, logger: logger}

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(prometheus.NewExporter(engine).Handler()))

	auth := r.Group("/api/auth")
	auth.Use(h.rateLimit)
	{
		auth.POST("/register", h.register)
		auth.POST("/verify-email", h.verifyEmail)
		auth.POST("/resend-verification", h.resendVerification)
		auth.POST("/login", h.login)
		auth.POST("/verify-otp", h.verifyOtp)
		auth.POST("/resend-otp", h.resendOtp)
	}

	member := r.Group("/api/member", h.requireSession)
	{
		member.GET("/me", h.me)
	}

	admin := r.Group("/api/admin", h.requireSession)
	{
		admin.POST("/unlock", h.unlock)
		admin.GET("/recent-active", h.recentActive)
	}

	return r
}

type handlers struct {
	engine *memberauth.Engine
	logger *slog.Logger
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// fail maps an engine error onto an HTTP status and a stable error code.
// Internal detail never reaches the response body.
func (h *handlers) fail(c *gin.Context, err error) {
	code := memberauth.ErrorCode(err)
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, errorBody{Code: code, Message: "internal error"})
		return
	}
	c.JSON(status, errorBody{Code: code, Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, memberauth.ErrWeakPassword),
		errors.Is(err, memberauth.ErrInvalidToken),
		errors.Is(err, memberauth.ErrTokenAlreadyUsed):
		return http.StatusBadRequest
	case errors.Is(err, memberauth.ErrInvalidCredentials),
		errors.Is(err, memberauth.ErrInvalidOtp),
		errors.Is(err, memberauth.ErrInvalidSignature),
		errors.Is(err, memberauth.ErrMalformedToken),
		errors.Is(err, memberauth.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, memberauth.ErrAccountNotActivated),
		errors.Is(err, memberauth.ErrAccountLocked),
		errors.Is(err, memberauth.ErrOtpAttemptsExceeded):
		return http.StatusForbidden
	case errors.Is(err, memberauth.ErrUserNotFound),
		errors.Is(err, memberauth.ErrTokenNotFound),
		errors.Is(err, memberauth.ErrOtpSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, memberauth.ErrEmailAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, memberauth.ErrTooManyRequests):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) rateLimit(c *gin.Context) {
	if err := h.engine.AllowRequest(c.Request.Context(), c.ClientIP()); err != nil {
		h.fail(c, err)
		c.Abort()
		return
	}
	c.Next()
}

func (h *handlers) requireSession(c *gin.Context) {
	const bearer = "Bearer "
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, bearer) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Code: "UNAUTHORIZED", Message: "missing bearer token"})
		return
	}
	claims, err := h.engine.ValidateSessionToken(header[len(bearer):])
	if err != nil {
		h.fail(c, err)
		c.Abort()
		return
	}
	c.Set("claims", claims)
	c.Next()
}

func (h *handlers) health(c *gin.Context) {
	status := h.engine.Health(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *handlers) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: "email and password are required"})
		return
	}
	view, err := h.engine.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *handlers) verifyEmail(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: "token is required"})
		return
	}
	if err := h.engine.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

func (h *handlers) resendVerification(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: "email is required"})
		return
	}
	if err := h.engine.ResendVerification(c.Request.Context(), req.Email); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sent": true})
}

func (h *handlers) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: "email and password are required"})
		return
	}
	result, err := h.engine.Login(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) verifyOtp(c *gin.Context) {
	var req struct {
		Reference string `json:"reference" binding:"required"`
		Code      string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: "reference and code are required"})
		return
	}
	result, err := h.engine.VerifyOtp(c.Request.Context(), req.Reference, req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) resendOtp(c *gin.Context) {
	var req struct {
		Reference string `json:"reference" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: "reference is required"})
		return
	}
	result, err := h.engine.ResendOtp(c.Request.Context(), req.Reference)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) me(c *gin.Context) {
	claims := c.MustGet("claims")
	c.JSON(http.StatusOK, claims)
}

func (h *handlers) unlock(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: "email is required"})
		return
	}
	if err := h.engine.UnlockAccount(c.Request.Context(), req.Email); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unlocked": true})
}

func (h *handlers) recentActive(c *gin.Context) {
	limit := int64(20)
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	emails, err := h.engine.RecentActiveAccounts(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": emails})
}
