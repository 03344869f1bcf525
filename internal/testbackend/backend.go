// Package testbackend is an in-memory stand-in for the pathforge backend. It
// implements the auth and user endpoints the session client consumes, plus
// knobs for expiring credentials and failing the refresh exchange. Tests and
// cmd/mockbackend use it; it is not a production server.
package testbackend

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	// RefreshCookie is the HttpOnly cookie carrying the server-held session
	RefreshCookie = "refresh_token"
	bearerPrefix  = "Bearer "
)

// Options configures a Backend
type Options struct {
	Secret      []byte
	AccessTTL   time.Duration
	CallbackURL string // where OAuth success redirects, e.g. http://127.0.0.1:5173/auth/success
	ErrorURL    string // where OAuth failure redirects
}

// User is a registered account
type User struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	passwordHash []byte
}

// Backend is the fake server
type Backend struct {
	opts Options

	mu            sync.Mutex
	users         map[string]*User // by email
	refresh       map[string]int   // refresh cookie -> user id
	epoch         uint64           // tokens from older epochs are rejected
	failRefresh   bool
	failOAuth     bool
	calls         map[string]int
	lastAuthorize map[string]string
}

// New creates an empty backend
func New(opts Options) *Backend {
	if len(opts.Secret) == 0 {
		opts.Secret = []byte("testbackend-secret")
	}
	if opts.AccessTTL == 0 {
		opts.AccessTTL = 15 * time.Minute
	}

	return &Backend{
		opts:          opts,
		users:         make(map[string]*User),
		refresh:       make(map[string]int),
		calls:         make(map[string]int),
		lastAuthorize: make(map[string]string),
	}
}

// Handler returns the gin engine serving the backend routes
func (b *Backend) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(b.countCalls())

	r.POST("/api/auth/signup", b.signup)
	r.POST("/api/auth/login", b.login)
	r.POST("/api/auth/refresh", b.refreshToken)
	r.POST("/api/auth/logout", b.requireAccess(), b.logout)
	r.GET("/api/user/me", b.requireAccess(), b.me)
	r.GET("/oauth2/authorization/:provider", b.authorize)

	return r
}

// AddUser registers an account directly
func (b *Backend) AddUser(name, email, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.users[email]; exists {
		return nil, fmt.Errorf("user %s already exists", email)
	}
	user := &User{ID: len(b.users) + 1, Name: name, Email: email, passwordHash: hash}
	b.users[email] = user
	return user, nil
}

// IssueAccessToken mints a valid access token for an existing user
func (b *Backend) IssueAccessToken(email string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	user, ok := b.users[email]
	if !ok {
		return "", fmt.Errorf("unknown user %s", email)
	}
	return b.issueLocked(user.ID)
}

// ExpireAccessTokens invalidates every access token issued so far. Refresh
// cookies stay valid.
func (b *Backend) ExpireAccessTokens() {
	b.mu.Lock()
	b.epoch++
	b.mu.Unlock()
}

// SetRefreshFailure makes the refresh exchange answer 401
func (b *Backend) SetRefreshFailure(fail bool) {
	b.mu.Lock()
	b.failRefresh = fail
	b.mu.Unlock()
}

// SetOAuthFailure makes provider authorization redirect to the error view
func (b *Backend) SetOAuthFailure(fail bool) {
	b.mu.Lock()
	b.failOAuth = fail
	b.mu.Unlock()
}

// Calls returns how many requests hit path
func (b *Backend) Calls(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

// LastAuthorization returns the Authorization header last sent to path
func (b *Backend) LastAuthorization(path string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAuthorize[path]
}

func (b *Backend) countCalls() gin.HandlerFunc {
	return func(c *gin.Context) {
		b.mu.Lock()
		b.calls[c.Request.URL.Path]++
		b.lastAuthorize[c.Request.URL.Path] = c.GetHeader("Authorization")
		b.mu.Unlock()
		c.Next()
	}
}

func (b *Backend) userByIDLocked(id int) *User {
	for _, u := range b.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (b *Backend) requireAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing authorization header"})
			return
		}

		claims, err := b.parse(strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		c.Set("uid", claims.UserID)
		c.Next()
	}
}

type signupRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (b *Backend) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := b.AddUser(req.Name, req.Email, req.Password); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "User registered"})
}

func (b *Backend) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b.mu.Lock()
	user, ok := b.users[req.Email]
	b.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(user.passwordHash, []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	b.startSession(c, user)
}

// startSession issues an access token and the refresh cookie
func (b *Backend) startSession(c *gin.Context, user *User) {
	b.mu.Lock()
	token, err := b.issueLocked(user.ID)
	refreshID := ulid.Make().String()
	b.refresh[refreshID] = user.ID
	b.mu.Unlock()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(RefreshCookie, refreshID, int((7 * 24 * time.Hour).Seconds()), "/api/auth", "", false, true)
	c.JSON(http.StatusOK, gin.H{"accessToken": token})
}

func (b *Backend) refreshToken(c *gin.Context) {
	cookie, err := c.Cookie(RefreshCookie)

	b.mu.Lock()
	defer b.mu.Unlock()

	userID, ok := b.refresh[cookie]
	if err != nil || !ok || b.failRefresh {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
		return
	}

	token, err := b.issueLocked(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accessToken": token})
}

func (b *Backend) logout(c *gin.Context) {
	if cookie, err := c.Cookie(RefreshCookie); err == nil {
		b.mu.Lock()
		delete(b.refresh, cookie)
		b.mu.Unlock()
	}
	c.SetCookie(RefreshCookie, "", -1, "/api/auth", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (b *Backend) me(c *gin.Context) {
	uid := c.GetInt("uid")

	b.mu.Lock()
	user := b.userByIDLocked(uid)
	b.mu.Unlock()
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// authorize stands in for the provider round trip: it signs in (or creates)
// a provider user and redirects to the client callback with the token.
func (b *Backend) authorize(c *gin.Context) {
	provider := c.Param("provider")

	b.mu.Lock()
	fail := b.failOAuth
	b.mu.Unlock()
	if fail || (provider != "google" && provider != "github") {
		c.Redirect(http.StatusFound, b.opts.ErrorURL)
		return
	}

	email := provider + "-user@example.com"
	b.mu.Lock()
	user, ok := b.users[email]
	b.mu.Unlock()
	if !ok {
		var err error
		user, err = b.AddUser(strings.ToUpper(provider[:1])+provider[1:]+" User", email, ulid.Make().String())
		if err != nil {
			c.Redirect(http.StatusFound, b.opts.ErrorURL)
			return
		}
	}

	b.mu.Lock()
	token, err := b.issueLocked(user.ID)
	b.mu.Unlock()
	if err != nil {
		c.Redirect(http.StatusFound, b.opts.ErrorURL)
		return
	}

	c.Redirect(http.StatusFound, b.opts.CallbackURL+"?token="+url.QueryEscape(token))
}
