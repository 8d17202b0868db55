package salesforce

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNotFound is matched by errors.Is for any error caused by an object the
// org does not know.
var ErrNotFound = errors.New("salesforce: not found")

// CodeNotFound is the errorCode Salesforce returns for an unknown sObject.
const CodeNotFound = "NOT_FOUND"

// APIError is a non-2xx REST response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("salesforce %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("salesforce %d: %s", e.StatusCode, e.Message)
}

// Is makes errors.Is(err, ErrNotFound) true for NOT_FOUND responses.
func (e *APIError) Is(target error) bool {
	if target != ErrNotFound {
		return false
	}
	return e.Code == CodeNotFound || (e.Code == "" && e.StatusCode == http.StatusNotFound)
}

// IsNotFound reports whether err was caused by an unknown object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// AsAPIError checks if an error is an APIError and returns it.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// apiErrorFromResponse reads a REST error body of the form
// [{"errorCode": "...", "message": "..."}].
func apiErrorFromResponse(resp *http.Response) *APIError {
	ae := &APIError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		ae.Message = http.StatusText(resp.StatusCode)
		return ae
	}

	var items []struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	}
	if json.Unmarshal(body, &items) == nil && len(items) > 0 {
		ae.Code = items[0].ErrorCode
		ae.Message = items[0].Message
		return ae
	}

	ae.Message = strings.TrimSpace(string(body))
	if ae.Message == "" {
		ae.Message = http.StatusText(resp.StatusCode)
	}
	return ae
}

// AuthError is returned when the token endpoint rejects the credentials.
type AuthError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("salesforce auth %d %s: %s", e.StatusCode, e.Code, e.Description)
}
