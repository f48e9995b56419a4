package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ucasvieira/locadora/internal/model"
)

// CredentialsRequest is the body of login and register.
type CredentialsRequest struct {
	Username string     `json:"username" binding:"required"`
	Password string     `json:"password" binding:"required"`
	Role     model.Role `json:"role,omitempty"`
}

// SessionResponse wraps the session of this context; Session is null when
// nobody is logged in.
type SessionResponse struct {
	Session *model.Session `json:"session"`
}

func (s *Server) login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "username and password required")
		return
	}
	sess, err := s.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{Session: &sess})
}

func (s *Server) logout(c *gin.Context) {
	if err := s.auth.Logout(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) session(c *gin.Context) {
	sess, err := s.auth.CurrentSession(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{Session: sess})
}

// register creates an account. A role other than user is kept only when the
// current session is admin.
func (s *Server) register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "username and password required")
		return
	}
	u, err := s.auth.Register(c.Request.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (s *Server) listUsers(c *gin.Context) {
	users, err := s.auth.PublicUsers(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *Server) deleteUser(c *gin.Context) {
	if err := s.auth.DeleteUser(c.Request.Context(), c.Param("username")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RoleRequest is the body of a role change.
type RoleRequest struct {
	Role model.Role `json:"role" binding:"required"`
}

func (s *Server) updateRole(c *gin.Context) {
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "role required")
		return
	}
	if err := s.auth.UpdateRole(c.Request.Context(), c.Param("username"), req.Role); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
