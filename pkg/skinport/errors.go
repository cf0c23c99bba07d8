package skinport

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/alejoacosta74/skinport-go/internal/dispatcher"
)

var (
	// ErrParamRequired is returned when a required request parameter is missing.
	ErrParamRequired = errors.New("skinport: required parameter missing")
	// ErrInvalidParam is returned when a request parameter fails validation.
	ErrInvalidParam = errors.New("skinport: invalid parameter")
	// ErrUnknownSteamStatus is returned for a steamStatusUpdated value outside
	// the four documented states.
	ErrUnknownSteamStatus = errors.New("skinport: unknown steam status")
	// ErrClientClosed is returned by calls made after Close.
	ErrClientClosed = errors.New("skinport: client closed")

	ErrAuthentication    = errors.New("skinport: authentication failed")
	ErrInsufficientFunds = errors.New("skinport: insufficient funds")
	ErrInvalidScope      = errors.New("skinport: invalid scope")
	ErrNotFound          = errors.New("skinport: not found")
	ErrInternalServer    = errors.New("skinport: internal server error")
	ErrRateLimited       = errors.New("skinport: rate limited")
	ErrHTTP              = errors.New("skinport: http request failed")

	// ErrEmptyChannel and ErrNilHandler are wrapped by the *ConfigError
	// returned from Listen.
	ErrEmptyChannel = dispatcher.ErrEmptyChannel
	ErrNilHandler   = dispatcher.ErrNilHandler
)

// ConfigError reports an invalid listener registration.
type ConfigError = dispatcher.ConfigError

// HTTPError is returned for every non-2xx response. It wraps one of the
// status sentinels above.
type HTTPError struct {
	StatusCode int
	Status     string
	Method     string
	URL        string
	// Message is the API error message, followed by the field errors.
	Message string
	kind    error
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.URL, e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error { return e.kind }

// errorForStatus maps a response status to its sentinel.
func errorForStatus(status int) error {
	switch status {
	case 401:
		return ErrAuthentication
	case 402:
		return ErrInsufficientFunds
	case 403:
		return ErrInvalidScope
	case 404:
		return ErrNotFound
	case 429:
		return ErrRateLimited
	case 500, 503:
		return ErrInternalServer
	}
	return ErrHTTP
}

// apiError is the JSON error body of the REST API.
type apiError struct {
	Message string `json:"message"`
	Errors  []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (a apiError) text() string {
	if len(a.Errors) == 0 {
		return a.Message
	}
	byID := make(map[string]string, len(a.Errors))
	for _, e := range a.Errors {
		byID[e.ID] = e.Message
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	lines := []string{a.Message}
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("In %s: %s", id, byID[id]))
	}
	return strings.Join(lines, "\n")
}
