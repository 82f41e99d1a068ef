package inference

import (
	"errors"
	"strings"

	"google.golang.org/genai"
)

// ErrorKind categorises a failed model call.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNoKey
	KindInvalidKey
	KindQuota
	KindNetwork
	KindEmptyResponse
	KindBadResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoKey:
		return "no_key"
	case KindInvalidKey:
		return "invalid_key"
	case KindQuota:
		return "quota"
	case KindNetwork:
		return "network"
	case KindEmptyResponse:
		return "empty_response"
	case KindBadResponse:
		return "bad_response"
	default:
		return "unknown"
	}
}

// CallError is returned by Model implementations.
type CallError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first CallError in err's chain, or
// KindUnknown.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// Classify maps an SDK or transport error to a CallError.
func Classify(err error) *CallError {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key not valid") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "api_key_invalid") ||
		strings.Contains(msg, "permission denied"):
		return &CallError{Kind: KindInvalidKey, Message: "API key is invalid or has been revoked", Err: err}
	case strings.Contains(msg, "quota") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "rate limit"):
		return &CallError{Kind: KindQuota, Message: "API quota exceeded or rate limited", Err: err}
	case strings.Contains(msg, "connection") ||
		strings.Contains(msg, "network") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "dial") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "unreachable"):
		return &CallError{Kind: KindNetwork, Message: "network error calling Gemini", Err: err}
	default:
		return &CallError{Kind: KindUnknown, Message: "Gemini call failed", Err: err}
	}
}

func classifyAPIError(err genai.APIError) *CallError {
	switch err.Code {
	case 400:
		if strings.Contains(strings.ToLower(err.Message), "api key") {
			return &CallError{Kind: KindInvalidKey, Message: "API key may be malformed", Err: err}
		}
		return &CallError{Kind: KindBadResponse, Message: "bad request", Err: err}
	case 401, 403:
		return &CallError{Kind: KindInvalidKey, Message: "API key is invalid, expired, or lacks permissions", Err: err}
	case 429:
		return &CallError{Kind: KindQuota, Message: "API rate limit exceeded", Err: err}
	case 500, 502, 503, 504:
		return &CallError{Kind: KindNetwork, Message: "Gemini server error", Err: err}
	default:
		return &CallError{Kind: KindUnknown, Message: "Gemini API error", Err: err}
	}
}
