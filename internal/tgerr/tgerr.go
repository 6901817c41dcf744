// Package tgerr classifies Telegram delivery errors so callers can
// tell a harmless no-op from rate limiting, broken formatting, or a
// real failure.
package tgerr

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Jitter is added on top of an advertised retry-after before the next
// attempt of the blocked operation.
const Jitter = 250 * time.Millisecond

// TransportError is the structured error every transport adapter
// returns: human message, machine description, numeric code, and an
// explicit retry-after when the platform advertised one.
type TransportError struct {
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return "telegram: " + strconv.Itoa(e.Code) + ": " + e.Description
	}
	return "telegram: " + e.Description
}

type Class int

const (
	ClassGeneric Class = iota
	ClassNotModified
	ClassFlood
	ClassBadFormatting
)

// Info is the classification result for one delivery error.
type Info struct {
	Class      Class
	Code       int
	Message    string
	RetryAfter time.Duration
}

// BlockedUntil is the earliest instant the failed operation may be
// attempted again.
func (i Info) BlockedUntil(now time.Time) time.Time {
	return now.Add(i.RetryAfter + Jitter)
}

var retryAfterRe = regexp.MustCompile(`retry after (\d+)`)

// Classify inspects a transport error. Nil errors classify as
// not-modified (a successful no-op).
func Classify(err error) Info {
	if err == nil {
		return Info{Class: ClassNotModified}
	}

	info := Info{Class: ClassGeneric, Message: err.Error()}

	var te *TransportError
	if errors.As(err, &te) {
		info.Code = te.Code
		info.Message = te.Description
		info.RetryAfter = te.RetryAfter
	}

	lower := strings.ToLower(info.Message)

	switch {
	case strings.Contains(lower, "message is not modified"):
		info.Class = ClassNotModified
	case info.Code == 429, info.RetryAfter > 0, strings.Contains(lower, "too many requests"):
		info.Class = ClassFlood
		if info.RetryAfter == 0 {
			if m := retryAfterRe.FindStringSubmatch(lower); m != nil {
				secs, _ := strconv.Atoi(m[1])
				info.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	case strings.Contains(lower, "can't parse entities"),
		strings.Contains(lower, "can't parse message text"),
		strings.Contains(lower, "unsupported start tag"):
		info.Class = ClassBadFormatting
	}

	return info
}

// IsFlood reports whether err is rate limiting and returns the wait.
func IsFlood(err error) (time.Duration, bool) {
	info := Classify(err)
	if info.Class != ClassFlood {
		return 0, false
	}
	return info.RetryAfter, true
}

// IsNotModified reports whether err is a no-op edit, which callers
// treat as success.
func IsNotModified(err error) bool {
	return Classify(err).Class == ClassNotModified
}
