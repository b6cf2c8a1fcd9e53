// Package dedup suppresses redelivered push messages. The server may deliver
// a push more than once (at-least-once delivery, reconnect windows); the
// application must see each logical message exactly once.
package dedup

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Scope is the delivery target class of a push message.
type Scope int

const (
	ScopeP2P Scope = iota
	ScopeGroup
	ScopeRoom
	ScopeBroadcast
)

const DefaultPairLimit = 1024

type pairKey struct {
	scopeKey int64 // group/room id; 0 for p2p and broadcast
	sender   int64
}

// Filter keeps, per scope, a bounded LRU of (scopeKey, sender) pairs mapping
// to the highest message id seen from that pair. Message ids are
// server-guaranteed monotonically non-decreasing per sender and scope, so
// anything at or below the recorded high watermark is a duplicate.
//
// The LRU bound caps memory per scope; recently-active pairs survive while
// idle ones are evicted first.
type Filter struct {
	scopes [4]*lru.Cache[pairKey, int64]
}

func NewFilter(pairLimit int) *Filter {
	if pairLimit <= 0 {
		pairLimit = DefaultPairLimit
	}
	f := &Filter{}
	for i := range f.scopes {
		// lru.New only fails on a non-positive size.
		f.scopes[i], _ = lru.New[pairKey, int64](pairLimit)
	}
	return f
}

// Admit reports whether the message should be delivered. The first sighting
// of (scope, scopeKey, sender, mid) returns true; repeats and anything not
// above the pair's high watermark return false.
func (f *Filter) Admit(scope Scope, scopeKey, sender, mid int64) bool {
	cache := f.scopes[scope]
	key := pairKey{scopeKey: scopeKey, sender: sender}

	if last, ok := cache.Get(key); ok && mid <= last {
		return false
	}
	cache.Add(key, mid)
	return true
}
