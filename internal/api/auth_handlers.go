// Package api - Authentication handlers
package api

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aethra/civicdesk/internal/auth"
	"github.com/aethra/civicdesk/internal/engine"
	"github.com/aethra/civicdesk/internal/errors"
	"github.com/aethra/civicdesk/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	loginMaxAttempts   = 5
	loginWindow        = 5 * time.Minute
	loginBlockDuration = 15 * time.Minute
	loginEntryTTL      = 30 * time.Minute
	loginSweepInterval = 10 * time.Minute
)

// LoginRateLimiter implements rate limiting for login attempts
type LoginRateLimiter struct {
	attempts map[string]*loginAttempt
	mu       sync.Mutex
	now      func() time.Time
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

type loginAttempt struct {
	count     int
	firstTry  time.Time
	blockedAt *time.Time
}

// NewLoginRateLimiter creates a rate limiter and starts its sweeper; call Close to stop it
func NewLoginRateLimiter() *LoginRateLimiter {
	rl := &LoginRateLimiter{
		attempts: make(map[string]*loginAttempt),
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go rl.cleanup(loginSweepInterval)
	return rl
}

// Allow checks if a login attempt is allowed.
// It returns the attempts left in the window and, when blocked, how long until retry.
func (rl *LoginRateLimiter) Allow(key string) (bool, int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	attempt, exists := rl.attempts[key]

	if !exists {
		rl.attempts[key] = &loginAttempt{count: 1, firstTry: now}
		return true, loginMaxAttempts - 1, 0
	}

	if attempt.blockedAt != nil {
		if elapsed := now.Sub(*attempt.blockedAt); elapsed < loginBlockDuration {
			return false, 0, loginBlockDuration - elapsed
		}
		attempt.count = 1
		attempt.firstTry = now
		attempt.blockedAt = nil
		return true, loginMaxAttempts - 1, 0
	}

	if now.Sub(attempt.firstTry) > loginWindow {
		attempt.count = 1
		attempt.firstTry = now
		return true, loginMaxAttempts - 1, 0
	}

	attempt.count++
	if attempt.count > loginMaxAttempts {
		attempt.blockedAt = &now
		return false, 0, loginBlockDuration
	}

	return true, loginMaxAttempts - attempt.count, 0
}

// Reset resets the attempts for a key (on successful login)
func (rl *LoginRateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// Close stops the sweeper goroutine and waits for it to exit
func (rl *LoginRateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
	<-rl.done
}

// cleanup removes old entries periodically
func (rl *LoginRateLimiter) cleanup(interval time.Duration) {
	defer close(rl.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *LoginRateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, attempt := range rl.attempts {
		if attempt.blockedAt != nil && now.Sub(*attempt.blockedAt) < loginBlockDuration {
			continue
		}
		if now.Sub(attempt.firstTry) > loginEntryTTL {
			delete(rl.attempts, key)
		}
	}
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	users       *engine.UserEngine
	jwtService  *auth.JWTService
	rateLimiter *LoginRateLimiter
	logger      *logrus.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(users *engine.UserEngine, jwtService *auth.JWTService, rateLimiter *LoginRateLimiter, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		users:       users,
		jwtService:  jwtService,
		rateLimiter: rateLimiter,
		logger:      logger,
	}
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest represents a token refresh request
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// ChangePasswordRequest represents a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

// TokenResponse is returned by every endpoint that issues tokens
type TokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         *models.User `json:"user"`
}

// Register creates a citizen account
// POST /auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req engine.Registration
	if err := bindJSON(c, &req); err != nil {
		abortWithError(c, err)
		return
	}

	user, err := h.users.Register(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// Login authenticates a citizen and returns tokens
// POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	h.login(c, models.RoleUser, "App access only for user role")
}

// AdminLogin authenticates an administrator and returns tokens
// POST /auth/admin-login
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	h.login(c, models.RoleAdmin, "Admin access only")
}

func (h *AuthHandler) login(c *gin.Context, role models.Role, wrongRole string) {
	var req LoginRequest
	if err := bindJSON(c, &req); err != nil {
		abortWithError(c, err)
		return
	}

	// Rate limiting key: IP + email combination
	rateLimitKey := c.ClientIP() + ":" + strings.ToLower(strings.TrimSpace(req.Email))

	allowed, remaining, retryAfter := h.rateLimiter.Allow(rateLimitKey)
	if !allowed {
		seconds := int(math.Ceil(retryAfter.Seconds()))
		h.logger.WithFields(logrus.Fields{"client_ip": c.ClientIP(), "email": req.Email}).Warn("Login blocked by rate limiter")
		c.Header("Retry-After", fmt.Sprint(seconds))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "TOO_MANY_REQUESTS",
			"message":     "Too many login attempts. Please wait before trying again",
			"retry_after": seconds,
		})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.Header("X-RateLimit-Remaining", fmt.Sprint(remaining))
		abortWithError(c, err)
		return
	}

	var policy auth.Policy
	if err := policy.RequireApproved(user); err != nil {
		abortWithError(c, err)
		return
	}
	if user.Role != role {
		abortWithError(c, errors.NewForbiddenError(wrongRole))
		return
	}

	h.rateLimiter.Reset(rateLimitKey)
	h.issueTokens(c, user)
}

// RefreshToken exchanges a refresh token for a new token pair
// POST /auth/refresh
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshRequest
	if err := bindJSON(c, &req); err != nil {
		abortWithError(c, err)
		return
	}

	claims, err := h.jwtService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		abortWithError(c, errors.NewUnauthorizedError("invalid refresh token"))
		return
	}

	user, err := h.users.FindByID(c.Request.Context(), claims.UserID)
	if err != nil {
		abortWithError(c, errors.NewUnauthorizedError("invalid refresh token"))
		return
	}
	if user.AccountStatus == models.AccountDeactivated {
		abortWithError(c, errors.NewForbiddenError("Account is deactivated"))
		return
	}
	h.issueTokens(c, user)
}

// GetMe returns the authenticated user
// GET /auth/me
func (h *AuthHandler) GetMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

// ChangePassword changes the authenticated user's password
// POST /auth/change-password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := bindJSON(c, &req); err != nil {
		abortWithError(c, err)
		return
	}

	if err := h.users.ChangePassword(c.Request.Context(), currentUser(c), req.CurrentPassword, req.NewPassword); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AuthHandler) issueTokens(c *gin.Context, user *models.User) {
	tokens, err := h.jwtService.GenerateTokenPair(user)
	if err != nil {
		abortWithError(c, errors.NewInternalError(err))
		return
	}

	h.logger.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("Tokens issued")
	c.JSON(http.StatusOK, TokenResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		ExpiresAt:    tokens.ExpiresAt,
		User:         user,
	})
}
