// Package bridge exchanges requests and responses with the supervised
// worker: a synchronous one-line-in/one-line-out channel, and a streaming
// query engine that interleaves progress notifications with a single
// terminal result.
package bridge

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mattjoyce/mirrorhost/internal/log"
	"github.com/mattjoyce/mirrorhost/internal/protocol"
)

// Conn grants serialized access to the worker's streams. Implemented by
// *worker.Supervisor; tests substitute in-memory pipes.
type Conn interface {
	WithExclusiveAccess(fn func(in io.Writer, out *bufio.Reader) error) error
}

// Client is the host-side endpoint of the worker protocol.
type Client struct {
	conn   Conn
	logger *slog.Logger

	// ConfigPath is the base worker configuration reference sent with every
	// streaming query.
	configPath string
}

// New creates a Client over conn. configPath is forwarded to the worker as
// the "config" field of query requests.
func New(conn Conn, configPath string) *Client {
	return &Client{
		conn:       conn,
		logger:     log.WithComponent("bridge"),
		configPath: configPath,
	}
}

// Send writes one request line and reads exactly one response line. An
// error-typed envelope is mapped to a WorkerError; any other envelope is
// returned unchanged. A malformed line is fatal to the call, and a
// zero-length read means the worker is gone (ErrStreamClosed).
//
// Send blocks for the full round trip and must not run on a
// latency-sensitive goroutine.
func (c *Client) Send(req protocol.Request) (*protocol.Response, error) {
	line, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	var resp *protocol.Response
	err = c.conn.WithExclusiveAccess(func(in io.Writer, out *bufio.Reader) error {
		if _, err := in.Write(line); err != nil {
			return fmt.Errorf("write request: %w", err)
		}

		raw, err := readLine(out)
		if err != nil {
			return err
		}

		decoded, err := protocol.DecodeResponse(raw)
		if err != nil {
			return err
		}
		if decoded.Kind == protocol.KindError {
			return &WorkerError{Message: decoded.Message}
		}
		resp = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// readLine reads one newline-terminated line. EOF, with or without a partial
// trailing fragment, maps to ErrStreamClosed.
func readLine(out *bufio.Reader) ([]byte, error) {
	raw, err := out.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrStreamClosed
		}
		return nil, fmt.Errorf("read response: %w", err)
	}
	return raw, nil
}

// isBlank reports whether a line is empty after trimming.
func isBlank(line []byte) bool {
	return len(bytes.TrimSpace(line)) == 0
}
