// Package rtm implements a client for the real-time messaging gate protocol:
// a persistent websocket session that carries request/answer RPC and
// server-initiated pushes over msgpack-encoded frames.
//
// The client owns the whole session lifecycle:
//
//   - gate discovery through the dispatch service (or a pinned endpoint)
//   - authentication, including server-directed handoff to another gate
//   - liveness tracking from server pings, with a forced close on silence
//   - automatic reconnection with a bounded burst and a cooldown after it
//   - pending-request timeouts and failure of everything in flight on loss
//   - per-conversation duplicate suppression of redelivered pushes
//
// All RPC methods are asynchronous: they return immediately and invoke their
// callback exactly once when the answer arrives, the request times out or the
// connection is lost. Push handlers run one at a time in arrival order.
//
// Typical use:
//
//	client := rtm.NewClient(rtm.Config{
//		Dispatch: "rtm-dispatch.example.com:13325",
//		PID:      11000001,
//		UID:      778898,
//		Token:    token,
//	})
//	client.OnLogin = func(endpoint string, err error) { ... }
//	client.Pushes.OnChat = func(m rtm.Message) { ... }
//	client.Login("")
package rtm
