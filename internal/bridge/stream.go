package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mattjoyce/mirrorhost/internal/protocol"
)

// progressBuffer bounds the handoff between the stream reader and the
// subscriber. A full buffer suspends the reader until the subscriber drains
// it, so a slow subscriber applies backpressure instead of growing memory.
const progressBuffer = 16

// QuerySpec describes one streaming query.
type QuerySpec struct {
	Talker   string
	Question string

	// Overrides is merged into the worker's base configuration for this
	// query only. Optional.
	Overrides map[string]any
}

// StreamQuery sends a streaming query and reads response lines until a
// terminal envelope or end of stream. Progress envelopes are handed to
// onProgress in emission order, and every delivered progress strictly
// precedes the return of the terminal outcome; onProgress never fires after
// StreamQuery returns.
//
// The protocol has no cancellation message. A cancelled ctx stops progress
// delivery, but the read loop still drains to a terminal line (or stream
// close) before the exclusive lock is released, so a later exchange never
// sees this query's trailing output. Malformed lines are skipped: they
// cannot carry the terminal signal and are indistinguishable from stray
// diagnostics.
func (c *Client) StreamQuery(ctx context.Context, spec QuerySpec, onProgress func(*protocol.Response)) (*protocol.Response, error) {
	req := protocol.Request{
		"cmd":      "query",
		"talker":   spec.Talker,
		"question": spec.Question,
		"stream":   true,
		"config":   c.configPath,
	}
	if spec.Overrides != nil {
		req["config_overrides"] = spec.Overrides
	}

	line, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	var result *protocol.Response
	err = c.conn.WithExclusiveAccess(func(in io.Writer, out *bufio.Reader) error {
		progressCh := make(chan *protocol.Response, progressBuffer)
		relayDone := make(chan struct{})
		go func() {
			defer close(relayDone)
			for env := range progressCh {
				if onProgress != nil {
					onProgress(env)
				}
			}
		}()
		// The relay drains fully before any return below, which is what
		// guarantees progress-before-terminal ordering.
		defer func() {
			close(progressCh)
			<-relayDone
		}()

		if _, err := in.Write(line); err != nil {
			return fmt.Errorf("write query: %w", err)
		}

		for {
			raw, err := out.ReadBytes('\n')
			if err != nil {
				if errors.Is(err, io.EOF) {
					// The worker may have emitted its final line without a
					// trailing newline before closing.
					if resp, derr := protocol.DecodeResponse(raw); derr == nil {
						if done, terr := c.handleTerminal(resp, &result); done {
							return terr
						}
					}
					return ErrNoResult
				}
				return err
			}

			if isBlank(raw) {
				continue
			}
			resp, derr := protocol.DecodeResponse(raw)
			if derr != nil {
				c.logger.Debug("skipping undecodable line", "error", derr)
				continue
			}

			switch resp.Kind {
			case protocol.KindProgress:
				if ctx.Err() != nil {
					// Abandoned call: keep draining, stop delivering.
					continue
				}
				select {
				case progressCh <- resp:
				case <-ctx.Done():
				}
			case protocol.KindResult, protocol.KindError:
				done, terr := c.handleTerminal(resp, &result)
				if done {
					return terr
				}
			default:
				// Unknown tags are tolerated for protocol additions.
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// handleTerminal records a terminal envelope. Returns done=true when the
// envelope ends the call, with the call's error (nil for a result).
func (c *Client) handleTerminal(resp *protocol.Response, result **protocol.Response) (bool, error) {
	switch resp.Kind {
	case protocol.KindResult:
		*result = resp
		return true, nil
	case protocol.KindError:
		return true, &WorkerError{Message: resp.Message}
	default:
		return false, nil
	}
}
