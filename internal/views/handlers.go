package views

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pathforge/pathforge/internal/api"
	"github.com/pathforge/pathforge/internal/app"
	"github.com/pathforge/pathforge/internal/guard"
)

// LoginForm is accepted as JSON or as a form post
type LoginForm struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// SignupForm is accepted as JSON or as a form post
type SignupForm struct {
	Name     string `json:"name" form:"name"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type providerLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// index sends visitors wherever the guard would
func (s *Server) index(c *gin.Context) {
	v := s.app.Guard.Check()
	switch v.Decision {
	case guard.Admit:
		c.Redirect(http.StatusFound, s.app.Config().Routes.HomePath)
	case guard.Redirect:
		c.Redirect(http.StatusFound, v.Location)
	default:
		c.JSON(http.StatusAccepted, gin.H{"message": "Loading..."})
	}
}

func (s *Server) loginView(c *gin.Context) {
	links := make([]providerLink, 0, len(app.Providers))
	for _, p := range app.Providers {
		links = append(links, providerLink{Name: p, URL: s.app.Config().Routes.EntryPath + "/" + p})
	}

	c.JSON(http.StatusOK, gin.H{
		"view":      "login",
		"providers": links,
		"signup":    "/signup",
	})
}

func (s *Server) login(c *gin.Context) {
	var form LoginForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.app.Login(c.Request.Context(), form.Email, form.Password); err != nil {
		s.renderError(c, "Login failed", err)
		return
	}
	c.Redirect(http.StatusFound, s.app.Router.Current())
}

// providerRedirect hands the browser to the backend's authorization endpoint
func (s *Server) providerRedirect(c *gin.Context) {
	target, err := s.app.ProviderURL(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (s *Server) signupView(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"view":   "signup",
		"fields": []string{"name", "email", "password"},
		"login":  s.app.Config().Routes.EntryPath,
	})
}

func (s *Server) signup(c *gin.Context) {
	var form SignupForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.app.Signup(c.Request.Context(), form.Name, form.Email, form.Password); err != nil {
		s.renderError(c, "Signup failed", err)
		return
	}
	c.Redirect(http.StatusFound, s.app.Router.Current())
}

func (s *Server) logout(c *gin.Context) {
	if err := s.app.Logout(c.Request.Context()); err != nil {
		s.renderError(c, "Logout failed", err)
		return
	}
	c.Redirect(http.StatusFound, s.app.Router.Current())
}

// authSuccess is the OAuth callback: /auth/success?token=...
func (s *Server) authSuccess(c *gin.Context) {
	if _, err := s.app.CompleteOAuth(c.Request.Context(), c.Query("token")); err != nil {
		s.logger.Warn().Err(err).Msg("OAuth callback did not start a session")
	}
	c.Redirect(http.StatusFound, s.app.Router.Current())
}

func (s *Server) authError(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"view":    "auth-error",
		"message": "Authentication failed",
		"login":   s.app.Config().Routes.EntryPath,
	})
}

func (s *Server) dashboard(c *gin.Context) {
	user, _ := guard.UserFromContext(c)
	c.JSON(http.StatusOK, gin.H{
		"view":    "dashboard",
		"message": "Welcome, " + user.Name(),
		"user":    user,
	})
}

// renderError surfaces a flow failure: backend statuses verbatim, local
// validation as 400, anything else as an unreachable backend.
func (s *Server) renderError(c *gin.Context, msg string, err error) {
	var statusErr *api.StatusError
	var validationErr *api.ValidationError

	switch {
	case errors.As(err, &statusErr):
		c.JSON(statusErr.StatusCode, gin.H{"error": msg, "details": statusErr.Body})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": msg, "details": validationErr.Error()})
	case errors.Is(err, api.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": msg, "details": err.Error()})
	default:
		s.logger.Error().Err(err).Msg(msg)
		c.JSON(http.StatusBadGateway, gin.H{"error": msg, "details": err.Error()})
	}
}
