//go:build conformance

package conformance

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
)

// apiURL builds a full URL for a path under the profile, e.g. "/history".
func apiURL(path string) string {
	return strings.TrimRight(baseURL, "/") + "/v1/profiles/" + profileID + path
}

// rootURL builds a full URL for a path outside /v1, e.g. "/health".
func rootURL(path string) string {
	return strings.TrimRight(baseURL, "/") + path
}

// doRequest performs an HTTP request and returns the response.
func doRequest(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// doJSON performs an authenticated request and returns the decoded envelope.
func doJSON(t *testing.T, method, url string, body io.Reader) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+authToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return decode(t, doRequest(t, req))
}

// doMultipart posts a single file part under field and returns the decoded envelope.
func doMultipart(t *testing.T, url, field, fileName string, content []byte, extra map[string]string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range extra {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	fw, err := w.CreateFormFile(field, fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write content: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req, err := http.NewRequest("POST", url, &buf)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+authToken)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return decode(t, doRequest(t, req))
}

func decode(t *testing.T, resp *http.Response) (int, map[string]any) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal JSON: %v\nbody: %s", err, string(data))
	}
	return resp.StatusCode, raw
}

// assertEnvelopeShape validates the fields every response envelope carries
// and that the status line agrees with httpStatus.
func assertEnvelopeShape(t *testing.T, status int, raw map[string]any) {
	t.Helper()

	s := assertField[string](t, raw, "status")
	switch s {
	case "success", "partial", "error":
	default:
		t.Errorf("unexpected status %q", s)
	}
	assertField[float64](t, raw, "code")
	assertField[string](t, raw, "message")
	if hs := assertField[float64](t, raw, "httpStatus"); int(hs) != status {
		t.Errorf("httpStatus %v does not match response status %d", hs, status)
	}
	if s == "error" {
		assertFieldAbsent(t, raw, "data")
	}
	assertFieldAbsent(t, raw, "debug")
}

// assertField validates a field exists in an object and has the expected Go type.
// Returns the typed value.
func assertField[T any](t *testing.T, obj map[string]any, field string) T {
	t.Helper()
	val, ok := obj[field]
	if !ok {
		var zero T
		t.Errorf("missing field %q", field)
		return zero
	}
	typed, ok := val.(T)
	if !ok {
		var zero T
		t.Errorf("field %q: expected %T, got %T (%v)", field, zero, val, val)
		return zero
	}
	return typed
}

// assertFieldAbsent validates a field does NOT exist in the object.
func assertFieldAbsent(t *testing.T, obj map[string]any, field string) {
	t.Helper()
	if _, ok := obj[field]; ok {
		t.Errorf("field %q should be absent but is present", field)
	}
}
