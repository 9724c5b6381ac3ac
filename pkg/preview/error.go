package preview

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is the uniform error shape a preview consumer renders.
type Error struct {
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

func (e *Error) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.ErrorCode, e.Detail)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Detail)
}

// HTTPError is returned by fetchers when the preview endpoint answers with a
// non-2xx status.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed with status code %d", e.StatusCode)
}

// staticError is the error body of the agent API.
type staticError struct {
	Detail    *string `json:"detail"`
	ErrorCode string  `json:"error_code"`
}

const unknownError = "An unknown error occurred"

// ExtractError normalizes err into an *Error:
//   - validation failures become 400 with every issue joined by ", "
//   - HTTP errors whose body carries a string "detail" keep their status,
//     detail and error code
//   - anything else becomes 500 with the error text
func ExtractError(err error) *Error {
	if err == nil {
		return &Error{Status: http.StatusInternalServerError, Detail: unknownError}
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	var ve interface{ Messages() []string }
	if errors.As(err, &ve) {
		return &Error{Status: http.StatusBadRequest, Detail: strings.Join(ve.Messages(), ", ")}
	}

	var he *HTTPError
	if errors.As(err, &he) {
		var body staticError
		if json.Unmarshal(he.Body, &body) == nil && body.Detail != nil {
			status := he.StatusCode
			if status == 0 {
				status = http.StatusInternalServerError
			}
			return &Error{Status: status, Detail: *body.Detail, ErrorCode: body.ErrorCode}
		}
	}

	detail := err.Error()
	if detail == "" {
		detail = unknownError
	}
	return &Error{Status: http.StatusInternalServerError, Detail: detail}
}
