// Package provider is the HTTP client for the generative AI and
// vision-safety service. Every call returns either a value or a
// *result.Failure carrying the provider's status code, so the retry engine
// can classify it.
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leca/dt-image-workflows/internal/model"
	"github.com/leca/dt-image-workflows/internal/result"
)

// DefaultTimeout bounds one provider call when none is configured.
const DefaultTimeout = 60 * time.Second

// maxResponseBytes bounds JSON responses read from the provider.
const maxResponseBytes = 4 << 20

// Envelope is the uniform response of the transformation endpoint.
type Envelope struct {
	Success       bool            `json:"success"`
	ResultLocator string          `json:"resultLocator,omitempty"`
	Message       string          `json:"message,omitempty"`
	StatusCode    int             `json:"statusCode,omitempty"`
	RawError      json.RawMessage `json:"rawError,omitempty"`
}

// Failure converts a non-success envelope into a typed failure.
func (e Envelope) Failure() *result.Failure {
	if e.Success {
		return nil
	}
	msg := e.Message
	if msg == "" {
		msg = "provider returned an unsuccessful response"
	}
	var f *result.Failure
	if model.IsSafetyCode(e.StatusCode) {
		f = result.Safety(e.StatusCode, msg)
	} else {
		f = result.New(e.StatusCode, "%s", msg)
	}
	if len(e.RawError) > 0 {
		f.Err = errors.New(string(e.RawError))
	}
	return f
}

// TransformRequest describes one transformation.
type TransformRequest struct {
	Action     string          `json:"action"`
	PresetURL  string          `json:"presetUrl,omitempty"`
	SelfieURLs []string        `json:"selfieUrls"`
	Prompt     json.RawMessage `json:"prompt,omitempty"`
	Options    map[string]any  `json:"options,omitempty"`
}

// Verdict holds per-category likelihoods from the safety check
// (VERY_UNLIKELY, UNLIKELY, POSSIBLE, LIKELY, VERY_LIKELY).
type Verdict struct {
	Adult    string `json:"adult"`
	Violence string `json:"violence"`
	Racy     string `json:"racy"`
	Medical  string `json:"medical"`
	Spoof    string `json:"spoof"`
}

// Violation returns the first violated category's code, or 0.
func (v Verdict) Violation() int {
	checks := []struct {
		level string
		code  int
	}{
		{v.Adult, model.SafetyAdult},
		{v.Violence, model.SafetyViolence},
		{v.Racy, model.SafetyRacy},
		{v.Medical, model.SafetyMedical},
		{v.Spoof, model.SafetySpoof},
	}
	for _, c := range checks {
		switch strings.ToUpper(c.level) {
		case "LIKELY", "VERY_LIKELY":
			return c.code
		}
	}
	return 0
}

// Client talks to the provider over HTTP JSON.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// New creates a Client. timeout bounds each request.
func New(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

// Transform runs a transformation and returns the result locator.
func (c *Client) Transform(ctx context.Context, req TransformRequest) (string, error) {
	var env Envelope
	if err := c.post(ctx, "/v1/transform", req, &env); err != nil {
		return "", err
	}
	if f := env.Failure(); f != nil {
		return "", f
	}
	if env.ResultLocator == "" {
		return "", result.New(http.StatusBadGateway, "provider returned no result locator")
	}
	return env.ResultLocator, nil
}

// GeneratePrompt asks the provider to describe the image at imageURL as a
// structured prompt payload.
func (c *Client) GeneratePrompt(ctx context.Context, imageURL string) (json.RawMessage, error) {
	var resp struct {
		Envelope
		Prompt json.RawMessage `json:"prompt"`
	}
	if err := c.post(ctx, "/v1/prompt", map[string]string{"imageUrl": imageURL}, &resp); err != nil {
		return nil, err
	}
	if f := resp.Envelope.Failure(); f != nil {
		return nil, f
	}
	if len(resp.Prompt) == 0 || !json.Valid(resp.Prompt) {
		return nil, result.New(http.StatusBadGateway, "provider returned an invalid prompt")
	}
	return resp.Prompt, nil
}

// CheckSafety classifies image content.
func (c *Client) CheckSafety(ctx context.Context, image []byte) (Verdict, error) {
	var resp struct {
		Envelope
		Verdict Verdict `json:"verdict"`
	}
	body := map[string]string{"image": base64.StdEncoding.EncodeToString(image)}
	if err := c.post(ctx, "/v1/safety", body, &resp); err != nil {
		return Verdict{}, err
	}
	if f := resp.Envelope.Failure(); f != nil {
		return Verdict{}, f
	}
	return resp.Verdict, nil
}

// Fetch downloads url, failing with 413 when the body exceeds limit bytes.
func (c *Client) Fetch(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, result.New(http.StatusBadRequest, "invalid url: %v", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, result.New(resp.StatusCode, "fetch %s", http.StatusText(resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("fetch read: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, result.New(http.StatusRequestEntityTooLarge, "fetched body exceeds %d bytes", limit)
	}
	return data, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("provider %s read: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		var env Envelope
		if json.Unmarshal(body, &env) != nil || (env.Message == "" && env.StatusCode == 0) {
			return result.New(resp.StatusCode, "provider %s: %s", path, http.StatusText(resp.StatusCode))
		}
		// The envelope's own code is the domain code; the HTTP status is a fallback.
		env.Success = false
		if env.StatusCode == 0 {
			env.StatusCode = resp.StatusCode
		}
		if env.Message == "" {
			env.Message = http.StatusText(resp.StatusCode)
		}
		f := env.Failure()
		f.Message = "provider " + path + ": " + f.Message
		return f
	}
	if err := json.Unmarshal(body, out); err != nil {
		return result.New(http.StatusBadGateway, "provider %s: decode response: %v", path, err)
	}
	return nil
}
