package ingestion

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"ClearingHouse/internal/event"
)

// CommandSubjectPrefix roots every inbound command subject. The token after
// it names the command type, e.g. "ch.cmd.Trade". Producers may append
// further tokens (a market index, a shard) which are ignored here.
const CommandSubjectPrefix = "ch.cmd."

// CommandSubject returns the subject a producer publishes et on.
func CommandSubject(et event.EventType) string {
	return CommandSubjectPrefix + et.String()
}

// ParseSubject extracts the command type from an inbound subject.
func ParseSubject(subject string) (event.EventType, error) {
	rest, ok := strings.CutPrefix(subject, CommandSubjectPrefix)
	if !ok {
		return event.EventTypeUnknown, fmt.Errorf("subject %q is not a command subject", subject)
	}
	name, _, _ := strings.Cut(rest, ".")
	et, ok := event.ParseEventType(name)
	if !ok {
		return event.EventTypeUnknown, fmt.Errorf("subject %q: unknown command %q", subject, name)
	}
	return et, nil
}

// ParseRawEvent converts a RawEvent into a typed command. The payload is
// the same JSON the event log stores.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	et, err := ParseSubject(raw.Subject)
	if err != nil {
		return nil, err
	}
	return ParsePayload(et, raw.Data)
}

// ParsePayload decodes and sanity-checks a command payload.
func ParsePayload(et event.EventType, data []byte) (event.Event, error) {
	evt, err := event.Decode(et, data)
	if err != nil {
		return nil, err
	}
	if key := evt.IdempotencyKey(); key == "" || key == uuid.Nil.String() {
		return nil, fmt.Errorf("%s: missing idempotency key", et)
	}
	if evt.EventTimestamp() <= 0 {
		return nil, fmt.Errorf("%s: missing timestamp", et)
	}
	return evt, nil
}
