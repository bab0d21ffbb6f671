package siwe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/layer-3/siwe/core"
	"github.com/layer-3/siwe/ports"
)

// Client talks to a SIWE server. The server binds nonces to ip, user agent
// and origin, so one Client should be used for the whole sign-in.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
	Origin     string
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		UserAgent: "siwe-go-client",
	}
}

// Nonce requests a fresh sign-in nonce
func (c *Client) Nonce(ctx context.Context) (string, error) {
	var resp struct {
		Nonce string `json:"nonce"`
	}
	if err := c.do(ctx, http.MethodPost, "/siwe/nonce", "", nil, &resp); err != nil {
		return "", err
	}
	return resp.Nonce, nil
}

// SignIn exchanges a signed message for a session
func (c *Client) SignIn(ctx context.Context, message, signature, address string) (*core.AuthResponse, error) {
	req := map[string]string{
		"message":   message,
		"signature": signature,
		"address":   address,
	}

	var resp core.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/siwe/auth", "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh rotates refreshToken. The old token stops working.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*core.TokenPair, error) {
	var pair core.TokenPair
	if err := c.do(ctx, http.MethodPost, "/siwe/refresh", "", map[string]string{"refresh_token": refreshToken}, &pair); err != nil {
		return nil, err
	}
	return &pair, nil
}

// Logout ends the session. accessToken may be empty.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/siwe/logout", accessToken, nil, nil)
}

// RevokeAll invalidates every refresh token of the account
func (c *Client) RevokeAll(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/siwe/revoke-all", accessToken, nil, nil)
}

// Me returns the account the access token belongs to
func (c *Client) Me(ctx context.Context, accessToken string) (*core.UserSummary, error) {
	var user core.UserSummary
	if err := c.do(ctx, http.MethodGet, "/siwe/me", accessToken, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// JWKS fetches the key set resource servers verify access tokens with
func (c *Client) JWKS(ctx context.Context) (*ports.JWKS, error) {
	var set ports.JWKS
	if err := c.do(ctx, http.MethodGet, "/.well-known/jwks.json", "", nil, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, target any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if c.Origin != "" {
		req.Header.Set("Origin", c.Origin)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
