// Package protocol implements the newline-delimited JSON wire format spoken
// by the narrative-mirror worker in stdio mode: one request object per line
// on its stdin, one response value per line on its stdout, with streaming
// responses discriminated by a "type" field.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// defaultErrorMessage stands in when an error envelope omits "message".
const defaultErrorMessage = "worker reported an error"

// EncodeRequest serializes req to a single JSON line terminated by exactly
// one newline. Fails only on non-serializable values, which indicates a
// programming error in the caller.
func EncodeRequest(req Request) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("encode request: nil request")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeResponse parses one response line. Surrounding whitespace is trimmed
// before parsing. Returns an error if the line is not valid JSON; whether
// that is fatal is the caller's policy (the synchronous path fails, the
// streaming path skips the line).
func DecodeResponse(line []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("decode response: empty line")
	}

	var value any
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	resp := &Response{
		Kind: KindUnknown,
		Raw:  append(json.RawMessage(nil), trimmed...),
	}
	if obj, ok := value.(map[string]any); ok {
		resp.Data = obj
		resp.Kind, resp.Message = Classify(obj)
	}
	return resp, nil
}

// Classify routes a decoded object by its "type" field and extracts the
// error message where applicable. Unrecognized or missing tags map to
// KindUnknown so protocol additions degrade to ignorable lines rather than
// failures.
func Classify(obj map[string]any) (Kind, string) {
	tag, _ := obj["type"].(string)
	switch tag {
	case "progress":
		return KindProgress, ""
	case "result":
		return KindResult, ""
	case "error":
		msg, _ := obj["message"].(string)
		if msg == "" {
			msg = defaultErrorMessage
		}
		return KindError, msg
	default:
		return KindUnknown, ""
	}
}
