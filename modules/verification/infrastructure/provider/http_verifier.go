package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jacksonlee411/payroll-portal/modules/verification/domain/ports"
	"github.com/jacksonlee411/payroll-portal/modules/verification/domain/types"
)

// HTTPVerifier calls an external identity verification provider.
type HTTPVerifier struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ ports.Verifier = (*HTTPVerifier)(nil)

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("verifier: http %d: %s", e.StatusCode, msg)
}

func NewHTTPVerifier(baseURL string, apiKey string, timeout time.Duration) (*HTTPVerifier, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("verifier: missing provider url")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.New("verifier: invalid provider url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("verifier: invalid provider url scheme")
	}
	if u.Host == "" {
		return nil, errors.New("verifier: invalid provider url host")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPVerifier{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type verifyRequest struct {
	Kind    types.Kind    `json:"kind"`
	Payload types.Payload `json:"payload"`
}

func (v *HTTPVerifier) PerformVerification(ctx context.Context, kind types.Kind, payload types.Payload) (types.Outcome, error) {
	if !kind.Valid() {
		return types.Outcome{}, fmt.Errorf("verifier: unknown kind %q", kind)
	}
	body, err := json.Marshal(verifyRequest{Kind: kind, Payload: payload})
	if err != nil {
		return types.Outcome{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v1/verifications", bytes.NewReader(body))
	if err != nil {
		return types.Outcome{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return types.Outcome{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return types.Outcome{}, readHTTPError(resp)
	}

	var out types.Outcome
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.Outcome{}, fmt.Errorf("verifier: decode response: %w", err)
	}
	return out, nil
}

func readHTTPError(resp *http.Response) error {
	const maxBody = 4096
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Message:    string(b),
	}
}
