// Package api is the typed client for the backend's auth and user endpoints.
// All calls go through the http.Client it is given, which in production is
// wrapped by the session transport.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Endpoint paths
const (
	PathSignup  = "/api/auth/signup"
	PathLogin   = "/api/auth/login"
	PathRefresh = "/api/auth/refresh"
	PathLogout  = "/api/auth/logout"
	PathMe      = "/api/user/me"
)

// Client represents an HTTP client for the backend API
type Client struct {
	baseURL    string
	httpClient *http.Client
	validate   *validator.Validate
}

// New creates a new API client
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// BaseURL returns the API base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SignupRequest represents the signup request body
type SignupRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TokenResponse is returned by login and refresh
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// UserProfile is the backend's view of the current user. Its fields are not
// interpreted; only presence matters.
type UserProfile map[string]any

// Name returns the "name" field when it is a string
func (u UserProfile) Name() string {
	name, _ := u["name"].(string)
	return name
}

// Signup creates an account
func (c *Client) Signup(ctx context.Context, req SignupRequest) error {
	if err := c.validate.Struct(req); err != nil {
		return &ValidationError{Err: err}
	}
	return c.Call(ctx, "signup", http.MethodPost, PathSignup, req, nil)
}

// Login exchanges email and password for an access credential
func (c *Client) Login(ctx context.Context, req LoginRequest) (string, error) {
	if err := c.validate.Struct(req); err != nil {
		return "", &ValidationError{Err: err}
	}

	var resp TokenResponse
	if err := c.Call(ctx, "login", http.MethodPost, PathLogin, req, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: login response has no accessToken", ErrMalformedPayload)
	}
	return resp.AccessToken, nil
}

// Refresh trades the server-held session cookie for a new access credential.
// It satisfies transport.Refresher when the client is built on a plain
// http.Client sharing the session cookie jar.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	var resp TokenResponse
	if err := c.Call(ctx, "refresh", http.MethodPost, PathRefresh, nil, &resp); err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

// Logout invalidates the server-held session cookie
func (c *Client) Logout(ctx context.Context) error {
	return c.Call(ctx, "logout", http.MethodPost, PathLogout, nil, nil)
}

// Me resolves the current user profile. A null body yields a nil profile.
func (c *Client) Me(ctx context.Context) (UserProfile, error) {
	var user UserProfile
	if err := c.Call(ctx, "get current user", http.MethodGet, PathMe, nil, &user); err != nil {
		return nil, err
	}
	return user, nil
}

// Call sends one JSON request. in may be nil for an empty body; out may be nil
// to discard the response. Any non-2xx status becomes a *StatusError.
func (c *Client) Call(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil {
		return nil
	}
	return Decode(respBody, out)
}

// Decode unmarshals a JSON body into out. Bodies that arrive as a JSON-encoded
// string holding the document are unwrapped first.
func Decode(data []byte, out any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}

	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		data = []byte(inner)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
