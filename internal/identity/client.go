// Package identity talks to the hosted identity provider (GoTrue-style REST
// API). It owns credential exchange only; session state lives in the auth
// service.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/FloraLens-io/floralens/internal/apperrors"
)

// User is the provider's view of an account.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
}

// AuthResponse is the provider's token grant response.
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a provider client. baseURL is the project URL without a
// trailing slash; apiKey is the public (anon) key sent on every request.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SignUp registers a new account with email and password. metadata is stored
// as user_metadata on the provider side.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*AuthResponse, error) {
	body := map[string]any{"email": email, "password": password}
	if len(metadata) > 0 {
		body["data"] = metadata
	}
	var resp AuthResponse
	if err := c.post(ctx, "/auth/v1/signup", nil, body, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SignInWithPassword exchanges email/password credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*AuthResponse, error) {
	q := url.Values{"grant_type": {"password"}}
	body := map[string]any{"email": email, "password": password}
	var resp AuthResponse
	if err := c.post(ctx, "/auth/v1/token", q, body, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SignInWithIDToken exchanges a federated provider's ID token (Google, Apple)
// for a session. nonce must match the nonce embedded in the token.
func (c *Client) SignInWithIDToken(ctx context.Context, provider, idToken, nonce string) (*AuthResponse, error) {
	q := url.Values{"grant_type": {"id_token"}}
	body := map[string]any{"provider": provider, "id_token": idToken}
	if nonce != "" {
		body["nonce"] = nonce
	}
	var resp AuthResponse
	if err := c.post(ctx, "/auth/v1/token", q, body, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SignOut revokes the given access token on the provider side.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.post(ctx, "/auth/v1/logout", nil, map[string]any{}, accessToken, nil)
}

// RecoverPassword asks the provider to send a password-reset email.
func (c *Client) RecoverPassword(ctx context.Context, email string) error {
	return c.post(ctx, "/auth/v1/recover", nil, map[string]any{"email": email}, "", nil)
}

type errorBody struct {
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	ErrorStr         string `json:"error"`
}

func (b errorBody) message() string {
	switch {
	case b.ErrorDescription != "":
		return b.ErrorDescription
	case b.Msg != "":
		return b.Msg
	case b.ErrorStr != "":
		return b.ErrorStr
	}
	return ""
}

func (c *Client) post(ctx context.Context, path string, query url.Values, body any, bearer string, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternalError, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternalError, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warnf("identity request failed (path=%s): %v", path, err)
		return apperrors.Wrap(err, apperrors.CodeExternalServiceError, "identity provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		msg := eb.message()
		if msg == "" {
			msg = fmt.Sprintf("identity provider returned status %d", resp.StatusCode)
		}
		code := apperrors.CodeExternalServiceError
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized ||
			resp.StatusCode == http.StatusUnprocessableEntity {
			code = apperrors.CodeInvalidCredentials
		}
		log.Warnf("identity request rejected (path=%s status=%d): %s", path, resp.StatusCode, msg)
		return apperrors.New(code, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Wrap(err, apperrors.CodeExternalServiceError, "failed to decode identity response")
		}
	}
	return nil
}
