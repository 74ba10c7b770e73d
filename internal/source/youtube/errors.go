package youtube

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrChannelNotFound is returned when a channel lookup matches nothing.
var ErrChannelNotFound = errors.New("youtube: channel not found")

// APIError is a non-2xx answer from the Data API.
type APIError struct {
	Status  int
	Reason  string
	Message string
}

func (e *APIError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("youtube api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("youtube api: status %d (%s): %s", e.Status, e.Reason, e.Message)
}

// keyExhausted reports whether another key may succeed where this one failed.
func (e *APIError) keyExhausted() bool {
	switch e.Reason {
	case "quotaExceeded", "dailyLimitExceeded", "rateLimitExceeded":
		return e.Status == http.StatusForbidden || e.Status == http.StatusTooManyRequests
	case "keyInvalid":
		return e.Status == http.StatusBadRequest
	}
	return false
}

// subscriptionsHidden reports the answers given for channels whose
// subscription list is private or gone.
func (e *APIError) subscriptionsHidden() bool {
	return (e.Status == http.StatusForbidden && e.Reason == "subscriptionForbidden") ||
		(e.Status == http.StatusNotFound && e.Reason == "subscriberNotFound")
}

type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return apiErr
	}
	if env.Error.Message != "" {
		apiErr.Message = env.Error.Message
	}
	if len(env.Error.Errors) > 0 {
		apiErr.Reason = env.Error.Errors[0].Reason
	}
	return apiErr
}
