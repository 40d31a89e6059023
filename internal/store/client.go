// Package store is the REST client for the backend's profile, subscription,
// scan-counter and payment-verification endpoints. It never talks to the
// database directly; every read and write goes through the backend API.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/FloraLens-io/floralens/internal/models"
)

// ErrNotFound is returned for 404 responses so callers can distinguish
// "record absent" from real failures.
var ErrNotFound = errors.New("not found")

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a store client against the backend API.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// GetUser fetches a profile by user ID.
func (c *Client) GetUser(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	if err := c.do(ctx, http.MethodGet, "/users/"+id, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateUser creates the profile row for a freshly signed-up user.
func (c *Client) CreateUser(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	var out models.Profile
	if err := c.do(ctx, http.MethodPost, "/users", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateUser applies a partial update to a profile.
func (c *Client) UpdateUser(ctx context.Context, id string, patch map[string]any) (*models.Profile, error) {
	var out models.Profile
	if err := c.do(ctx, http.MethodPatch, "/users/"+id, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetActiveSubscription fetches the user's active subscription record, or
// ErrNotFound when there is none.
func (c *Client) GetActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	var s models.Subscription
	if err := c.do(ctx, http.MethodGet, "/subscriptions/active/"+userID, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSubscription records a new subscription after a verified payment.
func (c *Client) CreateSubscription(ctx context.Context, s *models.Subscription) (*models.Subscription, error) {
	var out models.Subscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions", s, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetScanCount returns the scan count for (userID, date). A missing row means
// zero scans that day, not an error.
func (c *Client) GetScanCount(ctx context.Context, userID, date string) (int, error) {
	var row models.DailyScanCount
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/scans/%s/%s", userID, date), nil, &row)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Count, nil
}

// IncrementScanCount bumps today's counter for the user and returns the new
// count. The backend creates the row with count=1 when it is missing.
func (c *Client) IncrementScanCount(ctx context.Context, userID, date string) (int, error) {
	var row models.DailyScanCount
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/scans/%s/%s/increment", userID, date), nil, &row); err != nil {
		return 0, err
	}
	return row.Count, nil
}

// VerifyPayment asks the backend to verify a payment reference against the
// gateway. This is the only verification path; the client never decides
// success on its own.
func (c *Client) VerifyPayment(ctx context.Context, reference string) (*models.PaymentVerification, error) {
	var out models.PaymentVerification
	body := map[string]string{"reference": reference}
	if err := c.do(ctx, http.MethodPost, "/payments/verify", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type apiErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		var eb apiErrorBody
		_ = json.Unmarshal(raw, &eb)
		msg := eb.Error
		if msg == "" {
			msg = eb.Message
		}
		if msg == "" {
			msg = fmt.Sprintf("API Error: %d", resp.StatusCode)
		}
		log.Warnf("store request rejected (method=%s path=%s status=%d): %s", method, path, resp.StatusCode, msg)
		return errors.New(msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
