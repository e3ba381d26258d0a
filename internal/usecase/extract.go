package usecase

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"easyagent/internal/domain"
)

// Marker tokens some oracle backends wrap around the final payload.
const (
	messageMarker = "<|message|>"
	thinkCloser   = "</think>"
)

// codeFenceRe matches a markdown code fence (optionally tagged) wrapping the
// whole payload.
var codeFenceRe = regexp.MustCompile("(?si)^```[a-z]*\\s*(.*?)\\s*```$")

// ExtractError reports oracle output that could not be reduced to an
// envelope. Raw carries the full response text for the trace.
type ExtractError struct {
	Raw string
	Err error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract envelope: %v", e.Err)
}

func (e *ExtractError) Unwrap() error { return domain.ErrExtractFailed }

// Extract reduces raw oracle output to an Envelope using a layered strategy:
// strip an enclosing code fence if present, keep only the text after the last
// reasoning closer and the last message marker, then parse the remainder as
// JSON. Failure at the parse step fails the turn.
func Extract(raw string) (domain.Envelope, error) {
	s := strings.TrimSpace(raw)

	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		s = strings.TrimSpace(m[1])
	}
	if i := strings.LastIndex(s, thinkCloser); i >= 0 {
		s = s[i+len(thinkCloser):]
	}
	if i := strings.LastIndex(s, messageMarker); i >= 0 {
		s = s[i+len(messageMarker):]
	}
	s = strings.TrimSpace(s)

	var env domain.Envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return domain.Envelope{}, &ExtractError{Raw: raw, Err: err}
	}
	if env.Status == "" {
		return domain.Envelope{}, &ExtractError{Raw: raw, Err: fmt.Errorf("missing status field")}
	}
	return env, nil
}
