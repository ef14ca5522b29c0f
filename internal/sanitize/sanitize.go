// Package sanitize validates and redacts inbound events before they are
// queued for persistence.
package sanitize

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/logtide/logtide/internal/errors"
	"github.com/logtide/logtide/internal/event"
)

// emailPattern matches email-shaped substrings: local part, @, domain
// labels and a TLD of at least two letters.
var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// Sanitizer validates a single event and strips email addresses from
// its message and from string values directly inside the context map.
// Nested objects, userContext, globalContext, device and breadcrumb
// data are not scanned. Matches are removed outright rather than
// replaced with a placeholder, and redaction happens in memory before
// the event is queued, so no unredacted copy is ever stored.
type Sanitizer struct{}

// New creates a Sanitizer.
func New() *Sanitizer {
	return &Sanitizer{}
}

// Process validates and redacts one event in place. Validation runs on
// the input message: redaction may legitimately empty it afterwards.
// Events without an ID are assigned one so every persisted row has a
// stable dedup key. A validation failure drops only this event, never
// the batch it arrived in.
func (s *Sanitizer) Process(e *event.Event) error {
	if err := validate(e); err != nil {
		return err
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.GlobalContext == nil {
		e.GlobalContext = event.Context{}
	}

	e.Message = emailPattern.ReplaceAllString(e.Message, "")
	for k, v := range e.Context {
		if str, ok := v.(string); ok {
			e.Context[k] = emailPattern.ReplaceAllString(str, "")
		}
	}

	return nil
}

// ProcessBatch runs Process over every event and returns the accepted
// subset in input order together with the number dropped.
func (s *Sanitizer) ProcessBatch(events []*event.Event) (accepted []*event.Event, dropped int) {
	accepted = make([]*event.Event, 0, len(events))
	for _, e := range events {
		if err := s.Process(e); err != nil {
			dropped++
			continue
		}
		accepted = append(accepted, e)
	}
	return accepted, dropped
}

// validate enforces the required-field contract on a raw event.
func validate(e *event.Event) error {
	if e == nil {
		return errors.NewValidationError(errors.CodeInvalidEvent, "event is nil")
	}
	if !e.Level.Valid() {
		return errors.NewValidationError(errors.CodeInvalidEvent,
			fmt.Sprintf("unknown level %q", e.Level))
	}
	if e.Message == "" {
		return errors.NewValidationError(errors.CodeInvalidEvent, "message cannot be empty")
	}
	if e.Timestamp == "" {
		return errors.NewValidationError(errors.CodeInvalidEvent, "timestamp cannot be empty")
	}
	if e.Service == "" {
		return errors.NewValidationError(errors.CodeInvalidEvent, "service cannot be empty")
	}
	return nil
}
