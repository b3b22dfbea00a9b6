package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// APIError is an unsuccessful Bot API reply.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int // seconds, set on 429
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

func asAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func matches(err error, code int, fragment string) bool {
	ae, ok := asAPIError(err)
	if !ok {
		return false
	}
	if code != 0 && ae.Code != code {
		return false
	}
	return strings.Contains(strings.ToLower(ae.Description), fragment)
}

// IsMessageNotFound reports that the target message was deleted or never existed.
func IsMessageNotFound(err error) bool {
	return matches(err, 400, "message to edit not found") || matches(err, 400, "message to delete not found")
}

// IsNotModified reports an edit that would not change the message.
func IsNotModified(err error) bool { return matches(err, 400, "message is not modified") }

func IsBlocked(err error) bool     { return matches(err, 403, "bot was blocked by the user") }
func IsDeactivated(err error) bool { return matches(err, 403, "user is deactivated") }
func IsChatNotFound(err error) bool {
	return matches(err, 400, "chat not found")
}

// RetryAfter returns the wait requested by a 429 reply.
func RetryAfter(err error) (time.Duration, bool) {
	ae, ok := asAPIError(err)
	if !ok || ae.Code != 429 {
		return 0, false
	}
	secs := ae.RetryAfter
	if secs <= 0 {
		secs = 1
	}
	return time.Duration(secs) * time.Second, true
}
