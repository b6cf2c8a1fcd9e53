package rtm

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nexlink/rtmgo/internal/dedup"
	"github.com/nexlink/rtmgo/internal/dispatch"
	"github.com/nexlink/rtmgo/internal/wire"
)

// processor demuxes server-initiated quests. Everything except the method
// lookup runs on the dispatch worker, off the network read path; two-way
// quests are answered before the application handler is invoked.
type processor struct {
	c        *Client
	queue    *dispatch.Queue
	filter   *dedup.Filter
	log      *zap.Logger
	lastPing atomic.Int64 // unix seconds; 0 until the session is ready

	methods map[string]func(f *wire.Frame)
}

func newProcessor(c *Client, queue *dispatch.Queue, filter *dedup.Filter, log *zap.Logger) *processor {
	p := &processor{c: c, queue: queue, filter: filter, log: log}
	p.methods = map[string]func(*wire.Frame){
		"ping": p.ping,

		"kickout":     p.kickout,
		"kickoutroom": p.kickoutRoom,

		"pushmsg":          func(f *wire.Frame) { p.pushMessage(f, ScopeP2P) },
		"pushgroupmsg":     func(f *wire.Frame) { p.pushMessage(f, ScopeGroup) },
		"pushroommsg":      func(f *wire.Frame) { p.pushMessage(f, ScopeRoom) },
		"pushbroadcastmsg": func(f *wire.Frame) { p.pushMessage(f, ScopeBroadcast) },
	}
	return p
}

// process is called from the network read path. It only enqueues.
func (p *processor) process(f *wire.Frame) {
	handler, ok := p.methods[f.Method]
	if !ok {
		p.log.Debug("unhandled server quest", zap.String("method", f.Method))
		return
	}
	p.queue.Enqueue(func() { handler(f) })
}

// answer acknowledges a two-way server quest with an empty ok payload.
func (p *processor) answer(f *wire.Frame) {
	if f.MType != wire.MTypeTwoWay {
		return
	}
	p.c.sendAnswer(wire.Answer(f, 0, nil))
}

func (p *processor) initPing() {
	p.lastPing.Store(time.Now().Unix())
}

func (p *processor) clearPing() {
	p.lastPing.Store(0)
}

func (p *processor) ping(f *wire.Frame) {
	p.answer(f)
	p.lastPing.Store(time.Now().Unix())
}

func (p *processor) kickout(f *wire.Frame) {
	p.answer(f)
	p.c.kickedOut()
	if h := p.c.Pushes.OnKickout; h != nil {
		h()
	}
}

func (p *processor) kickoutRoom(f *wire.Frame) {
	p.answer(f)
	m, err := wire.DecodePayload(f.Payload)
	if err != nil {
		p.log.Error("bad kickoutroom payload", zap.Error(err))
		return
	}
	if h := p.c.Pushes.OnKickoutRoom; h != nil {
		h(asInt64(m["rid"]))
	}
}

func (p *processor) pushMessage(f *wire.Frame, scope Scope) {
	p.answer(f)

	body, err := wire.DecodePayload(f.Payload)
	if err != nil {
		p.log.Error("bad push payload",
			zap.String("method", f.Method), zap.Error(err))
		return
	}

	msg := Message{
		Scope: scope,
		From:  asInt64(body["from"]),
		Mid:   asInt64(body["mid"]),
	}
	switch scope {
	case ScopeP2P:
		msg.Target = asInt64(body["to"])
	case ScopeGroup:
		msg.Target = asInt64(body["gid"])
	case ScopeRoom:
		msg.Target = asInt64(body["rid"])
	}

	// Scope key: the shared channel id for group/room, none for p2p and
	// broadcast (those dedup per sender alone).
	var scopeKey int64
	if scope == ScopeGroup || scope == ScopeRoom {
		scopeKey = msg.Target
	}
	if !p.filter.Admit(scope, scopeKey, msg.From, msg.Mid) {
		return
	}

	msg.MType = byte(asInt64(body["mtype"]))
	msg.Attrs = asString(body["attrs"])
	msg.MTime = asInt64(body["mtime"])

	p.deliver(msg, body["msg"])
}

func (p *processor) deliver(msg Message, content any) {
	h := &p.c.Pushes

	switch {
	case msg.MType == MTypeChat:
		msg.Text, msg.Translated = chatContent(content)
		if h.OnChat != nil {
			h.OnChat(msg)
		}
	case msg.MType == MTypeAudio:
		msg.Binary = asBytes(content)
		if h.OnAudio != nil {
			h.OnAudio(msg)
		}
	case msg.MType == MTypeCmd:
		msg.Text = asString(content)
		if h.OnCmd != nil {
			h.OnCmd(msg)
		}
	case msg.MType >= MTypeFileStart && msg.MType <= MTypeFileEnd:
		msg.Text = asString(content)
		if h.OnFile != nil {
			h.OnFile(msg)
		}
	default:
		if b, ok := content.([]byte); ok {
			msg.Binary = b
		} else {
			msg.Text = asString(content)
		}
		if h.OnMessage != nil {
			h.OnMessage(msg)
		}
	}
}

// chatContent splits a chat body into plain text or a translated pair. The
// server sends either a bare string or a translation map; a translation with
// an empty target text degrades to plain source text.
func chatContent(content any) (string, *TranslatedMessage) {
	m, ok := content.(map[string]any)
	if !ok {
		return asString(content), nil
	}
	tm := &TranslatedMessage{
		Source:     asString(m["source"]),
		Target:     asString(m["target"]),
		SourceText: asString(m["sourceText"]),
		TargetText: asString(m["targetText"]),
	}
	if tm.TargetText == "" {
		return tm.SourceText, nil
	}
	return "", tm
}
