package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/leca/dt-image-workflows/internal/admission"
	"github.com/leca/dt-image-workflows/internal/model"
	"github.com/leca/dt-image-workflows/internal/result"
)

// Status is the three-way outcome of a request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// maxStackExcerpt bounds the stack text carried in the debug channel.
const maxStackExcerpt = 2048

// Response is the standard response envelope. Code is the domain code;
// HTTPStatus is derived from it and is also the status line of the response.
type Response struct {
	Status     Status       `json:"status"`
	Code       int          `json:"code"`
	HTTPStatus int          `json:"httpStatus"`
	Message    string       `json:"message"`
	Data       any          `json:"data,omitempty"`
	Items      []ItemResult `json:"items,omitempty"`
	Debug      *Debug       `json:"debug,omitempty"`
}

// ItemResult is one entry of a batch response, in input order.
type ItemResult struct {
	Index  int    `json:"index"`
	Status Status `json:"status"`
	Code   int    `json:"code"`
	Data   any    `json:"data,omitempty"`
	Reason string `json:"reason,omitempty"`
	Debug  *Debug `json:"debug,omitempty"`
}

// Debug is the opt-in diagnostics channel. It is only populated when the
// Builder has Debug set.
type Debug struct {
	Error          string `json:"error"`
	Stack          string `json:"stack,omitempty"`
	StatusCode     int    `json:"statusCode,omitempty"`
	Attempts       int    `json:"attempts,omitempty"`
	Exhausted      bool   `json:"exhausted,omitempty"`
	Classification string `json:"classification,omitempty"`
}

// Builder turns outcomes into envelopes. It is the only place that picks
// HTTP statuses and domain codes for failures.
type Builder struct {
	Debug bool
}

// Domain codes from SafetyCodeMin to SafetyCodeMax are reserved for
// safety and vision classification outcomes.
const (
	SafetyCodeMin = model.SafetyCodeMin
	SafetyCodeMax = model.SafetyCodeMax
)

// HTTPStatusFor maps a domain code to an HTTP status: safety
// classification codes are 422, codes in 200-599 pass through, and anything
// else is 500.
func HTTPStatusFor(code int) int {
	switch {
	case code >= SafetyCodeMin && code <= SafetyCodeMax:
		return http.StatusUnprocessableEntity
	case code >= 200 && code <= 599:
		return code
	default:
		return http.StatusInternalServerError
	}
}

// DomainCode returns the domain code carried by a failure.
func DomainCode(f *result.Failure) int {
	switch {
	case f == nil:
		return http.StatusInternalServerError
	case f.SafetyCode != 0:
		return f.SafetyCode
	case f.StatusCode != 0:
		return f.StatusCode
	default:
		return http.StatusInternalServerError
	}
}

// Success builds a success envelope.
func (b Builder) Success(data any) Response {
	return Response{Status: StatusSuccess, Code: http.StatusOK, HTTPStatus: http.StatusOK, Data: data}
}

// Failure builds an error envelope from a typed failure. The failure text
// only appears in the debug channel.
func (b Builder) Failure(f *result.Failure) Response {
	code := DomainCode(f)
	resp := Response{
		Status:     StatusError,
		Code:       code,
		HTTPStatus: HTTPStatusFor(code),
		Message:    safetyMessage(f),
	}
	if b.Debug {
		resp.Debug = debugFor(f)
	}
	return resp
}

// Exception builds the envelope for an unexpected panic or error.
func (b Builder) Exception(v any, stack []byte) Response {
	resp := Response{
		Status:     StatusError,
		Code:       http.StatusInternalServerError,
		HTTPStatus: http.StatusInternalServerError,
	}
	if b.Debug {
		d := &Debug{Error: describe(v), Classification: "exception"}
		if len(stack) > maxStackExcerpt {
			stack = stack[:maxStackExcerpt]
		}
		d.Stack = string(stack)
		resp.Debug = d
	}
	return resp
}

// Batch builds the envelope for a batch. Precedence: a safety block wins,
// then all-failed, then partial, then success. render converts a successful
// item's value into its wire form.
func Batch[R any](b Builder, outcomes []admission.Outcome[R], render func(R) any) Response {
	items := make([]ItemResult, len(outcomes))
	for i, o := range outcomes {
		item := ItemResult{Index: o.Index}
		if o.OK() {
			item.Status = StatusSuccess
			item.Code = http.StatusOK
			if render != nil {
				item.Data = render(o.Value)
			}
		} else {
			item.Status = StatusError
			item.Code = DomainCode(o.Failure)
			item.Reason = itemReason(o.Failure)
			if b.Debug {
				item.Debug = debugFor(o.Failure)
			}
		}
		items[i] = item
	}

	s := admission.Summarize(outcomes)
	var resp Response
	switch {
	case s.Safety != nil:
		resp = Response{
			Status:     StatusError,
			Code:       s.Safety.SafetyCode,
			HTTPStatus: http.StatusUnprocessableEntity,
			Message:    safetyMessage(s.Safety),
		}
	case s.Failed > 0 && s.Succeeded == 0:
		code := DomainCode(s.FirstFailure)
		resp = Response{Status: StatusError, Code: code, HTTPStatus: HTTPStatusFor(code)}
	case s.Failed > 0:
		resp = Response{Status: StatusPartial, Code: http.StatusOK, HTTPStatus: http.StatusOK}
	default:
		resp = b.Success(nil)
	}
	resp.Items = items
	return resp
}

// Write sends resp with its HTTPStatus.
func Write(w http.ResponseWriter, resp Response) {
	status := resp.HTTPStatus
	if status == 0 {
		status = HTTPStatusFor(resp.Code)
	}
	WriteJSON(w, status, resp)
}

// WriteJSON serialises resp as JSON and writes it to w with the given HTTP status code.
func WriteJSON(w http.ResponseWriter, status int, resp interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("WriteJSON: failed to encode response: %v", err)
	}
}

func debugFor(f *result.Failure) *Debug {
	if f == nil {
		return nil
	}
	return &Debug{
		Error:          f.Error(),
		StatusCode:     f.StatusCode,
		Attempts:       f.Attempts,
		Exhausted:      f.Exhausted,
		Classification: f.Classification(),
	}
}

// safetyMessage names the violated category. Other failures carry no
// message.
func safetyMessage(f *result.Failure) string {
	if !f.IsSafety() {
		return ""
	}
	if label := model.SafetyLabel(f.SafetyCode); label != "" {
		return "content rejected: " + label
	}
	return "content rejected"
}

// itemReason is the per-item reason shown without the debug channel. Only
// client-side problems the caller can act on are described.
func itemReason(f *result.Failure) string {
	if f.IsSafety() {
		return safetyMessage(f)
	}
	if code := DomainCode(f); code >= 400 && code <= 499 {
		return http.StatusText(code)
	}
	return ""
}

func describe(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case error:
		return x.Error()
	case string:
		return x
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "unprintable panic value"
		}
		return string(b)
	}
}
