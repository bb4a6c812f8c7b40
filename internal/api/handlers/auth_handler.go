package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/audit/internal/cache"
	"example.com/backstage/services/audit/internal/models"
	"example.com/backstage/services/audit/internal/repository"
	"example.com/backstage/services/audit/internal/service"
)

// AuthHandler serves account registration and authentication endpoints
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type signupRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// Signup handles POST /auth/signup
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, activationKey, err := h.authService.Signup(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "username or email is already registered"})
			return
		}
		log.Error().Err(err).Msg("Failed to register account")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register account"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"account":        accountView(user),
		"activation_key": activationKey,
	})
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrInactiveAccount):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			log.Error().Err(err).Msg("Failed to log in")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to log in"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"access_token": token, "token_type": "bearer"})
}

// Activate handles POST /auth/activate/:key
func (h *AuthHandler) Activate(c *gin.Context) {
	user, err := h.authService.Activate(c.Request.Context(), c.Param("key"))
	if err != nil {
		if errors.Is(err, cache.ErrTokenExpired) {
			c.JSON(http.StatusGone, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("Failed to activate account")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to activate account"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": accountView(user)})
}

// ResendActivation handles POST /auth/resend-activation
func (h *AuthHandler) ResendActivation(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	activationKey, err := h.authService.ResendActivation(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no account matches the provided email"})
			return
		}
		log.Error().Err(err).Msg("Failed to reissue activation key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reissue activation key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"activation_key": activationKey})
}

func accountView(user *models.UserAccount) gin.H {
	return gin.H{
		"id":        user.ID,
		"username":  user.Username,
		"email":     user.Email,
		"is_active": user.IsActive,
	}
}
