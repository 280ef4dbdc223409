package bridge

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/mirrorhost/internal/protocol"
)

// fakeConn plays back a scripted worker transcript and captures what the
// bridge writes. The scripted output naturally ends in EOF, standing in for
// a worker that closed its stdout.
type fakeConn struct {
	mu      sync.Mutex
	out     *bufio.Reader
	written bytes.Buffer
}

func newFakeConn(transcript string) *fakeConn {
	return &fakeConn{out: bufio.NewReader(strings.NewReader(transcript))}
}

func (f *fakeConn) WithExclusiveAccess(fn func(in io.Writer, out *bufio.Reader) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(&f.written, f.out)
}

func TestSendReturnsEnvelopeUnchanged(t *testing.T) {
	conn := newFakeConn(`{"talker_id":"abc","message_count":3,"build_status":"complete"}` + "\n")
	c := New(conn, "config.yml")

	resp, err := c.Send(protocol.Request{"cmd": "import", "file": "chat.json"})
	require.NoError(t, err)
	assert.Equal(t, protocol.KindUnknown, resp.Kind)
	assert.JSONEq(t, `{"talker_id":"abc","message_count":3,"build_status":"complete"}`, string(resp.Raw))

	// The request must have gone out as one JSON line.
	sent := conn.written.String()
	assert.True(t, strings.HasSuffix(sent, "\n"))
	assert.Contains(t, sent, `"cmd":"import"`)
}

func TestSendMapsWorkerError(t *testing.T) {
	conn := newFakeConn(`{"type":"error","message":"bad talker"}` + "\n")
	c := New(conn, "config.yml")

	_, err := c.Send(protocol.Request{"cmd": "get_messages", "talker": "nope"})
	var werr *WorkerError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "bad talker", werr.Message)
}

func TestSendStreamClosed(t *testing.T) {
	conn := newFakeConn("")
	c := New(conn, "config.yml")

	_, err := c.Send(protocol.Request{"cmd": "list_sessions"})
	assert.ErrorIs(t, err, ErrStreamClosed)
}

// The synchronous path, unlike the streaming path, fails hard on a line it
// cannot decode.
func TestSendMalformedLineIsFatal(t *testing.T) {
	conn := newFakeConn("not json at all\n")
	c := New(conn, "config.yml")

	_, err := c.Send(protocol.Request{"cmd": "list_sessions"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStreamClosed)
	var werr *WorkerError
	assert.False(t, errors.As(err, &werr))
}

func TestListSessions(t *testing.T) {
	transcript := `[{"talker_id":"abc","display_name":"Ana","last_timestamp":1700000000000,` +
		`"build_status":"in_progress","message_count":120,` +
		`"build_progress":{"stage":"layer2","step":"start","detail":"","updated_at":"2026-01-01T00:00:00Z"}}]` + "\n"
	c := New(newFakeConn(transcript), "config.yml")

	sessions, err := c.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "abc", sessions[0].TalkerID)
	assert.Equal(t, "in_progress", sessions[0].BuildStatus)
	require.NotNil(t, sessions[0].BuildProgress)
	assert.Equal(t, "layer2", sessions[0].BuildProgress.Stage)
}

func TestGetMessages(t *testing.T) {
	transcript := `[{"local_id":1,"create_time":1700000000000,"is_send":true,` +
		`"sender_display":"me","parsed_content":"hello"},` +
		`{"local_id":2,"create_time":1700000001000,"is_send":false,` +
		`"sender_display":"Ana","parsed_content":"hi","phase_index":2}]` + "\n"
	conn := newFakeConn(transcript)
	c := New(conn, "config.yml")

	msgs, err := c.GetMessages("abc", 50, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsSend)
	assert.Nil(t, msgs[0].PhaseIndex)
	require.NotNil(t, msgs[1].PhaseIndex)
	assert.Equal(t, 2, *msgs[1].PhaseIndex)

	sent := conn.written.String()
	assert.Contains(t, sent, `"limit":50`)
	assert.Contains(t, sent, `"offset":10`)
}

func TestGetMessagesOmitsUnsetPaging(t *testing.T) {
	conn := newFakeConn("[]\n")
	c := New(conn, "config.yml")

	_, err := c.GetMessages("abc", 0, 0)
	require.NoError(t, err)
	sent := conn.written.String()
	assert.NotContains(t, sent, "limit")
	assert.NotContains(t, sent, "offset")
}

func TestImportFile(t *testing.T) {
	conn := newFakeConn(`{"talker_id":"a1b2","message_count":42,"build_status":"pending"}` + "\n")
	c := New(conn, "config.yml")

	receipt, err := c.ImportFile("/tmp/export.json")
	require.NoError(t, err)
	assert.Equal(t, "a1b2", receipt.TalkerID)
	assert.Equal(t, 42, receipt.MessageCount)
}

func TestDeleteSession(t *testing.T) {
	conn := newFakeConn(`{"status":"deleted","talker_id":"abc"}` + "\n")
	c := New(conn, "config.yml")
	require.NoError(t, c.DeleteSession("abc"))

	c = New(newFakeConn(`{"type":"error","message":"Session not found: zzz"}`+"\n"), "config.yml")
	err := c.DeleteSession("zzz")
	var werr *WorkerError
	require.ErrorAs(t, err, &werr)
	assert.Contains(t, werr.Message, "not found")
}
