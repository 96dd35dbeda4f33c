package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skillforge/skillforge/pkg/authn"
	"github.com/skillforge/skillforge/pkg/httperr"
	"github.com/skillforge/skillforge/pkg/models"
	"github.com/skillforge/skillforge/pkg/store"
)

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type registerResponse struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// registerHandler handles POST /api/auth/register.
func (s *Server) registerHandler(c *gin.Context) {
	var req registerRequest
	if !bindJSONOrAbort(c, &req) {
		return
	}

	hash, err := authn.HashPassword(req.Password)
	if err != nil {
		abortWithError(c, err)
		return
	}

	u := &models.User{
		UserID:       uuid.NewString(),
		Username:     req.Username,
		PasswordHash: hash,
	}
	if err := s.users.Create(c.Request.Context(), u); err != nil {
		if err == store.ErrDuplicate {
			abortWithError(c, httperr.ErrAlreadyExists)
			return
		}
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, registerResponse{Message: "registered", UserID: u.UserID})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// loginHandler handles POST /api/auth/login.
func (s *Server) loginHandler(c *gin.Context) {
	var req loginRequest
	if !bindJSONOrAbort(c, &req) {
		return
	}

	u, err := s.users.GetByUsername(c.Request.Context(), req.Username)
	if err != nil {
		abortWithError(c, httperr.ErrAuthInvalid)
		return
	}
	if !authn.VerifyPassword(u.PasswordHash, req.Password) {
		abortWithError(c, httperr.ErrAuthInvalid)
		return
	}

	token, err := s.tokens.Issue(u.UserID, u.IsAdmin)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, loginResponse{AccessToken: token, TokenType: "bearer"})
}
