// Package remote implements the fulfillment ports against the ERP REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Credentials authenticate one call to the ERP API.
type Credentials struct {
	Token  string
	UserID int64
}

type credentialsKey struct{}

// WithCredentials attaches explicit credentials to ctx. They take precedence
// over the request principal; background jobs use them with a service token.
func WithCredentials(ctx context.Context, c Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, c)
}

// CredentialsFromContext resolves the credentials of the current call.
func CredentialsFromContext(ctx context.Context) (Credentials, error) {
	if c, ok := ctx.Value(credentialsKey{}).(Credentials); ok && c.Token != "" {
		return c, nil
	}
	if p, ok := shared.PrincipalFromContext(ctx); ok && p.Token != "" {
		return Credentials{Token: p.Token, UserID: p.UserID}, nil
	}
	return Credentials{}, shared.ErrUnauthenticated
}

// CredentialsScope keys work that may be shared between calls presenting the
// same credentials.
func CredentialsScope(ctx context.Context) string {
	c, err := CredentialsFromContext(ctx)
	if err != nil {
		return ""
	}
	return strconv.FormatInt(c.UserID, 10) + ":" + c.Token
}

// Client talks to the ERP API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *slog.Logger
}

// NewClient constructs a Client for baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: base url %q must be absolute", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: u, http: &http.Client{Timeout: timeout}, logger: logger}, nil
}

// apiError is the error body returned by the ERP API.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stock   *struct {
		ProductID   int64  `json:"product_id"`
		WarehouseID int64  `json:"warehouse_id"`
		OnHand      string `json:"on_hand"`
		Requested   string `json:"requested"`
	} `json:"stock,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	creds, err := CredentialsFromContext(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("remote call",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= 300 {
		return decodeError(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(method, path string, resp *http.Response) error {
	var body apiError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(raw, &body)
	msg := body.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	if body.Code == "insufficient_stock" && body.Stock != nil {
		if stockErr := stockError(body); stockErr != nil {
			return stockErr
		}
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusNotFound:
		sentinel = httpx.ErrNotFound
	case http.StatusConflict:
		sentinel = httpx.ErrConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		sentinel = httpx.ErrValidation
	case http.StatusUnauthorized:
		sentinel = shared.ErrUnauthenticated
	case http.StatusForbidden:
		sentinel = httpx.ErrForbidden
	default:
		return fmt.Errorf("remote: %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	return fmt.Errorf("remote: %s %s: %s: %w", method, path, msg, sentinel)
}

var errBadPayload = errors.New("remote: malformed payload")
