package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/audit/internal/cache"
	"example.com/backstage/services/audit/internal/service"
)

// UserHandler serves the authenticated account endpoints
type UserHandler struct {
	authService *service.AuthService
}

// NewUserHandler creates a new user handler
func NewUserHandler(authService *service.AuthService) *UserHandler {
	return &UserHandler{authService: authService}
}

// Me handles GET /users/me
func (h *UserHandler) Me(c *gin.Context) {
	account := currentAccount(c)
	c.JSON(http.StatusOK, gin.H{"account": accountView(account)})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

// ChangePassword handles PUT /users/password
func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account := currentAccount(c)
	if err := h.authService.ChangePassword(c.Request.Context(), account, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("Failed to change password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to change password"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ForgotAccessKey handles POST /users/access-key/forgot. The caller must
// confirm the email on record before a reset key is issued.
func (h *UserHandler) ForgotAccessKey(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account := currentAccount(c)
	if req.Email != account.Email {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email does not match the account on record"})
		return
	}

	resetKey, err := h.authService.ForgotAccessKey(c.Request.Context(), account)
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue reset key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue reset key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reset_key": resetKey})
}

// ResetAccessKey handles POST /users/access-key/reset/:key
func (h *UserHandler) ResetAccessKey(c *gin.Context) {
	user, err := h.authService.ResetAccessKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		if errors.Is(err, cache.ErrTokenExpired) {
			c.JSON(http.StatusGone, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("Failed to rotate access key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate access key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account":    accountView(user),
		"access_key": user.AccessKey,
	})
}
