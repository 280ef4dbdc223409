package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/mirrorhost/internal/protocol"
)

// Session is one row of the worker's list_sessions reply.
type Session struct {
	TalkerID      string         `json:"talker_id"`
	DisplayName   string         `json:"display_name"`
	LastTimestamp int64          `json:"last_timestamp"`
	BuildStatus   string         `json:"build_status"` // pending | in_progress | complete
	MessageCount  int            `json:"message_count"`
	BuildProgress *BuildProgress `json:"build_progress,omitempty"`
}

// BuildProgress is present while a talker's index build is running.
type BuildProgress struct {
	Stage     string `json:"stage"`
	Step      string `json:"step"`
	Detail    string `json:"detail"`
	UpdatedAt string `json:"updated_at"`
}

// Message is one chat message in client form.
type Message struct {
	LocalID       int64  `json:"local_id"`
	CreateTime    int64  `json:"create_time"`
	IsSend        bool   `json:"is_send"`
	SenderDisplay string `json:"sender_display"`
	ParsedContent string `json:"parsed_content"`
	PhaseIndex    *int   `json:"phase_index,omitempty"`
}

// ImportReceipt is the worker's reply to an import command.
type ImportReceipt struct {
	TalkerID     string `json:"talker_id"`
	MessageCount int    `json:"message_count"`
	BuildStatus  string `json:"build_status"`
}

// ListSessions returns every imported conversation with its build status.
func (c *Client) ListSessions() ([]Session, error) {
	resp, err := c.Send(protocol.Request{"cmd": "list_sessions"})
	if err != nil {
		return nil, err
	}
	var sessions []Session
	if err := json.Unmarshal(resp.Raw, &sessions); err != nil {
		return nil, fmt.Errorf("list_sessions payload: %w", err)
	}
	return sessions, nil
}

// GetMessages returns messages for a talker. limit <= 0 means no limit;
// offset skips from the start.
func (c *Client) GetMessages(talker string, limit, offset int) ([]Message, error) {
	req := protocol.Request{
		"cmd":    "get_messages",
		"talker": talker,
	}
	if limit > 0 {
		req["limit"] = limit
	}
	if offset > 0 {
		req["offset"] = offset
	}

	resp, err := c.Send(req)
	if err != nil {
		return nil, err
	}
	var messages []Message
	if err := json.Unmarshal(resp.Raw, &messages); err != nil {
		return nil, fmt.Errorf("get_messages payload: %w", err)
	}
	return messages, nil
}

// ImportFile asks the worker to ingest a chat export file. The path must be
// reachable from the worker's working directory.
func (c *Client) ImportFile(path string) (*ImportReceipt, error) {
	resp, err := c.Send(protocol.Request{"cmd": "import", "file": path})
	if err != nil {
		return nil, err
	}
	var receipt ImportReceipt
	if err := json.Unmarshal(resp.Raw, &receipt); err != nil {
		return nil, fmt.Errorf("import payload: %w", err)
	}
	return &receipt, nil
}

// DeleteSession removes a conversation and its derived index data.
func (c *Client) DeleteSession(talker string) error {
	_, err := c.Send(protocol.Request{"cmd": "delete_session", "talker": talker})
	return err
}
