package rtm

import (
	"errors"
	"fmt"
	"time"

	"github.com/nexlink/rtmgo/internal/transport"
	"github.com/nexlink/rtmgo/internal/wire"
)

// resolveGate asks the dispatch service which gate this user should connect
// to. One short-lived connection, one quest, closed regardless of outcome.
func (c *Client) resolveGate() (string, error) {
	payload := map[string]any{
		"pid":      c.cfg.PID,
		"uid":      c.cfg.UID,
		"what":     "rtmGated",
		"addrType": "ipv4",
		"version":  c.cfg.Version,
	}

	m, err := c.callOneShot(c.cfg.Dispatch, "which", payload, c.cfg.Timeout)
	if err != nil {
		return "", err
	}
	endpoint := asString(m["endpoint"])
	if endpoint == "" {
		return "", errors.New("rtm: dispatch answer missing endpoint")
	}
	return endpoint, nil
}

// callOneShot dials endpoint, sends a single quest, waits for its answer and
// closes the connection. Used for gate discovery and file-gate uploads, which
// both talk to a different endpoint than the session's gate connection.
func (c *Client) callOneShot(endpoint, method string, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	body, err := wire.EncodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("rtm: encode %s: %w", method, err)
	}
	seq := c.seq.Add(1)

	type outcome struct {
		m   map[string]any
		err error
	}
	ch := make(chan outcome, 1)
	put := func(o outcome) {
		select {
		case ch <- o:
		default:
		}
	}

	conn := c.dial(endpoint, transport.Handlers{
		OnFrame: func(f *wire.Frame) {
			if !f.IsAnswer() || f.Seq != seq {
				return
			}
			if f.Status != 0 {
				em, _ := wire.DecodePayload(f.Payload)
				put(outcome{nil, &AnswerError{
					Code:    int(asInt64(em["code"])),
					Message: asString(em["ex"]),
				}})
				return
			}
			m, derr := wire.DecodePayload(f.Payload)
			put(outcome{m, derr})
		},
		OnClose: func(err error) {
			if err == nil {
				err = ErrConnectionLost
			}
			put(outcome{nil, err})
		},
	})

	if err := conn.Connect(); err != nil {
		return nil, err
	}
	defer conn.Close(nil)

	if err := conn.Send(wire.Quest(method, seq, body)); err != nil {
		return nil, err
	}

	select {
	case o := <-ch:
		return o.m, o.err
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}
