package rtm

import (
	"time"

	"go.uber.org/zap"
)

// Config describes one RTM session. Dispatch is the discovery service that
// assigns the actual gate endpoint; leave it unused by passing a non-empty
// endpoint to Login.
type Config struct {
	Dispatch string            `json:"dispatch"`
	PID      int32             `json:"pid"`
	UID      int64             `json:"uid"`
	Token    string            `json:"token"`
	Version  string            `json:"version"`
	Attrs    map[string]string `json:"attrs"`

	// Reconnect enables automatic re-login after a connection loss that was
	// not caused by an explicit Close.
	Reconnect bool `json:"reconnect"`

	// Timeout is the default quest deadline. Zero means 30 seconds.
	Timeout time.Duration `json:"timeout"`

	// PingTimeout force-closes the connection when no server keep-alive has
	// arrived for this long. Zero means 60 seconds.
	PingTimeout time.Duration `json:"ping_timeout"`

	// RetryLimit is how many consecutive reconnect attempts happen
	// immediately before the cooldown engages. Zero means 3.
	RetryLimit int `json:"retry_limit"`

	// RetryCooldown is the pause before retrying once the immediate attempts
	// are spent. Zero means 20 seconds.
	RetryCooldown time.Duration `json:"retry_cooldown"`

	// PushQueueLimit bounds the push dispatch queue. Zero means 100.
	PushQueueLimit int `json:"push_queue_limit"`

	// DedupPairLimit bounds the duplicate filter's per-scope
	// (target, sender) tables. Zero means 1024.
	DedupPairLimit int `json:"dedup_pair_limit"`

	// Logger receives internal diagnostics. Nil means no logging.
	Logger *zap.Logger `json:"-"`
}

const (
	defaultTimeout       = 30 * time.Second
	defaultPingTimeout   = 60 * time.Second
	defaultRetryLimit    = 3
	defaultRetryCooldown = 20 * time.Second
	byeTimeout           = 3 * time.Second
)

func (c *Config) withDefaults() Config {
	out := *c
	if out.Timeout <= 0 {
		out.Timeout = defaultTimeout
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = defaultPingTimeout
	}
	if out.RetryLimit <= 0 {
		out.RetryLimit = defaultRetryLimit
	}
	if out.RetryCooldown <= 0 {
		out.RetryCooldown = defaultRetryCooldown
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return out
}
