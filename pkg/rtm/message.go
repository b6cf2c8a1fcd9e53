package rtm

import "github.com/nexlink/rtmgo/internal/dedup"

// Scope is the delivery target class of a message.
type Scope = dedup.Scope

const (
	ScopeP2P       = dedup.ScopeP2P
	ScopeGroup     = dedup.ScopeGroup
	ScopeRoom      = dedup.ScopeRoom
	ScopeBroadcast = dedup.ScopeBroadcast
)

// Well-known message types. Anything else is an application-defined plain
// message delivered through OnMessage.
const (
	MTypeChat      byte = 30
	MTypeAudio     byte = 31
	MTypeCmd       byte = 32
	MTypeFileStart byte = 40
	MTypeFileEnd   byte = 50
)

// TranslatedMessage is a chat message the server translated before delivery.
type TranslatedMessage struct {
	Source     string
	Target     string
	SourceText string
	TargetText string
}

// Message is one delivered push. Target is the peer uid, group id or room id
// depending on Scope (zero for broadcast). Exactly one of Text, Binary or
// Translated carries the content, by content kind.
type Message struct {
	Scope      Scope
	From       int64
	Target     int64
	MType      byte
	Mid        int64
	Text       string
	Binary     []byte
	Translated *TranslatedMessage
	Attrs      string
	MTime      int64
}

// PushHandlers are the application callbacks for server-initiated events,
// invoked one at a time in arrival order from the dispatch worker. Nil fields
// drop the corresponding event. Set them before Login.
type PushHandlers struct {
	// OnChat receives chat messages (Text, or Translated when the server
	// translated the message).
	OnChat func(m Message)
	// OnAudio receives audio messages (Binary).
	OnAudio func(m Message)
	// OnCmd receives command messages (Text).
	OnCmd func(m Message)
	// OnFile receives file messages (Text holds the file URL).
	OnFile func(m Message)
	// OnMessage receives everything with an application-defined mtype.
	OnMessage func(m Message)

	// OnKickout fires when the server evicts this session. The connection is
	// closed and no reconnect follows.
	OnKickout func()
	// OnKickoutRoom fires when the server removes this user from a room.
	OnKickoutRoom func(roomID int64)
}

// HistoryMessage is one stored message returned by the history quests. For
// p2p history Direction reports 1 when the local user was the sender,
// 2 when the receiver, and From is unset; other scopes set From.
type HistoryMessage struct {
	ID        int64
	From      int64
	Direction byte
	MType     byte
	Mid       int64
	Deleted   bool
	Msg       string
	Attrs     string
	MTime     int64
}

// HistoryResult is one page of a history query.
type HistoryResult struct {
	Num    int
	LastID int64
	Begin  int64
	End    int64
	Msgs   []HistoryMessage
}

// TranslateResult is the outcome of a Translate quest.
type TranslateResult struct {
	Source     string
	SourceText string
	Target     string
	TargetText string
}
