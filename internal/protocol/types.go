package protocol

import "encoding/json"

// Kind classifies a response line by its "type" discriminator.
type Kind int

const (
	// KindUnknown covers lines without a recognized "type" field, including
	// untagged payloads (list_sessions and friends reply with bare JSON).
	KindUnknown Kind = iota
	KindProgress
	KindResult
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	case KindResult:
		return "result"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Request is the outbound envelope written to the worker's stdin as a single
// JSON line. The bridge imposes no schema beyond JSON-serializability; the
// worker dispatches on its "cmd" key.
type Request map[string]any

// Response is one decoded line from the worker's stdout.
type Response struct {
	Kind Kind

	// Message is the worker-supplied failure text. Set only for KindError;
	// defaulted when the worker omits it.
	Message string

	// Raw is the trimmed line exactly as received, preserving the worker's
	// field order and any fields the host does not model.
	Raw json.RawMessage

	// Data holds the decoded object fields. Nil when the line is valid JSON
	// but not an object (e.g. the array reply to list_sessions).
	Data map[string]any
}
