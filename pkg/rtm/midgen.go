package rtm

import (
	"sync"
	"time"
)

// midGenerator issues message ids unique within the pending window:
// millisecond timestamp * 1000 plus a wrapping 0..998 counter. Send
// operations call it when the application passes mid 0.
type midGenerator struct {
	mu    sync.Mutex
	count int64
}

func (g *midGenerator) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.count++
	if g.count >= 999 {
		g.count = 0
	}
	return time.Now().UnixMilli()*1000 + g.count
}
