package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"portal-gateway/internal/metadata"
)

// ClientConfig configures the remote authority client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Client is the HTTP client for the remote identity authority. Every
// authenticated call carries the session token as a Bearer credential.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client. A nil httpClient gets a default one with the
// configured timeout.
func NewClient(cfg ClientConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
	}
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (c *Client) Login(ctx context.Context, cpf, password string) (string, error) {
	var resp tokenResponse
	body := map[string]string{"cpf": cpf, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", body, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("identity login: empty token in response")
	}
	return resp.Token, nil
}

func (c *Client) Profile(ctx context.Context, token string) (*metadata.User, error) {
	var user metadata.User
	if err := c.do(ctx, http.MethodGet, "/me", token, nil, &user); err != nil {
		return nil, err
	}
	if err := ValidateProfile(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) SelectRole(ctx context.Context, token string, moduleID, roleID int) (string, error) {
	var resp tokenResponse
	body := map[string]int{"module_id": moduleID, "role_id": roleID}
	if err := c.do(ctx, http.MethodPost, "/auth/select-role", token, body, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("identity select-role: empty token in response")
	}
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var reader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusUnprocessableEntity && path == "/auth/select-role":
		return ErrRoleNotAvailable
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("identity %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
