package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/miracsucu4417/image-processing-service/internal/models"
	"github.com/miracsucu4417/image-processing-service/internal/service"
	"github.com/miracsucu4417/image-processing-service/internal/transform"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(u models.User) userResponse {
	return userResponse{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt}
}

func (h HandlerSet) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, transform.FieldError{Field: "body", Message: "must be a JSON object"})
		return
	}

	user, err := h.auth.Register(c.Request.Context(), service.Credentials{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "user registered successfully",
		"user":    toUserResponse(user),
	})
}

func (h HandlerSet) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, transform.FieldError{Field: "body", Message: "must be a JSON object"})
		return
	}

	result, err := h.auth.Login(c.Request.Context(), service.Credentials{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "login successful",
		"token":     result.Token,
		"expiresAt": result.ExpiresAt,
		"user":      toUserResponse(result.User),
	})
}
