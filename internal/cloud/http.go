package cloud

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

	"github.com/golang-jwt/jwt/v5"

	"github.com/dukerupert/livinlog/internal/model"
)

// HTTPConfig configures the HTTP backend client.
type HTTPConfig struct {
	BaseURL     string
	ContainerID string
	Secret      string
	Timeout     time.Duration
}

// HTTPBackend talks to the sync backend's JSON API. Every request carries the
// container identifier both as a header and as the audience of a short-lived
// HS256 token.
type HTTPBackend struct {
	cfg        HTTPConfig
	httpClient *http.Client
}

func NewHTTPBackend(cfg HTTPConfig) *HTTPBackend {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPBackend{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (b *HTTPBackend) ContainerID() string { return b.cfg.ContainerID }

type accountResponse struct {
	Status AccountStatus `json:"status"`
}

type acceptRequest struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusError is returned for non-2xx responses.
type statusError struct {
	Code    int
	Message string
}

func (e *statusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.Code)
}

func (b *HTTPBackend) token() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    "livinlog",
		Audience:  jwt.ClaimStrings{b.cfg.ContainerID},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(b.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	tok, err := b.token()
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("X-Container-ID", b.cfg.ContainerID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er errorResponse
		json.NewDecoder(resp.Body).Decode(&er)
		return resp.StatusCode, &statusError{Code: resp.StatusCode, Message: er.Error}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (b *HTTPBackend) AccountStatus(ctx context.Context) (AccountStatus, error) {
	var ar accountResponse
	code, err := b.do(ctx, http.MethodGet, "/v1/account/status", nil, &ar)
	if err != nil {
		return StatusCouldNotDetermine, err
	}
	if code == http.StatusNotFound || ar.Status == "" {
		return StatusCouldNotDetermine, nil
	}
	return ar.Status, nil
}

func (b *HTTPBackend) FetchShare(ctx context.Context, householdID string) (*model.ShareRecord, error) {
	var rec *model.ShareRecord
	code, err := b.do(ctx, http.MethodGet, "/v1/shares?household_id="+url.QueryEscape(householdID), nil, &rec)
	if err != nil {
		return nil, fmt.Errorf("fetch share: %w", err)
	}
	if code == http.StatusNotFound {
		return nil, nil
	}
	return rec, nil
}

func (b *HTTPBackend) CreateShare(ctx context.Context, req CreateShareRequest) (*model.ShareRecord, error) {
	var rec *model.ShareRecord
	code, err := b.do(ctx, http.MethodPost, "/v1/shares", req, &rec)
	if err != nil {
		return nil, fmt.Errorf("create share: %w", err)
	}
	if code == http.StatusNotFound {
		return nil, fmt.Errorf("create share: endpoint not found")
	}
	return rec, nil
}

func (b *HTTPBackend) SaveShare(ctx context.Context, rec model.ShareRecord) (*model.ShareRecord, error) {
	var saved *model.ShareRecord
	code, err := b.do(ctx, http.MethodPut, "/v1/shares/"+url.PathEscape(rec.ID), rec, &saved)
	if err != nil {
		return nil, fmt.Errorf("save share: %w", err)
	}
	if code == http.StatusNotFound {
		return nil, fmt.Errorf("save share %s: not found", rec.ID)
	}
	return saved, nil
}

func (b *HTTPBackend) DeleteShare(ctx context.Context, shareID string) error {
	code, err := b.do(ctx, http.MethodDelete, "/v1/shares/"+url.PathEscape(shareID), nil, nil)
	if err != nil {
		return fmt.Errorf("delete share: %w", err)
	}
	if code == http.StatusNotFound {
		return fmt.Errorf("delete share %s: not found", shareID)
	}
	return nil
}

func (b *HTTPBackend) AcceptInvitation(ctx context.Context, token string, into Sink) error {
	var snap Snapshot
	code, err := b.do(ctx, http.MethodPost, "/v1/invitations/accept", acceptRequest{Token: token}, &snap)
	if err != nil {
		return fmt.Errorf("accept invitation: %w", err)
	}
	if code == http.StatusNotFound {
		return ErrInvitationNotFound
	}
	return into.ApplySnapshot(ctx, snap)
}
