package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame mtypes.
const (
	MTypeOneWay byte = 0 // quest, no answer expected
	MTypeTwoWay byte = 1 // quest, answer expected
	MTypeAnswer byte = 2
)

// FlagMsgpack marks a msgpack-encoded payload. This SDK always sets it; the
// flag exists on the wire for JSON-capable peers.
const FlagMsgpack byte = 0x1

const protocolVersion byte = 1

// Frame is one protocol envelope: a quest (server- or client-initiated) or an
// answer correlated to a two-way quest by Seq.
type Frame struct {
	Flag    byte
	MType   byte
	Status  byte // answers only; 0 = ok
	Seq     uint32
	Method  string // quests only
	Payload []byte
}

func (f *Frame) IsQuest() bool {
	return f.MType == MTypeOneWay || f.MType == MTypeTwoWay
}

func (f *Frame) IsAnswer() bool {
	return f.MType == MTypeAnswer
}

// Quest builds a two-way quest frame with a msgpack map payload.
func Quest(method string, seq uint32, payload []byte) *Frame {
	return &Frame{
		Flag:    FlagMsgpack,
		MType:   MTypeTwoWay,
		Seq:     seq,
		Method:  method,
		Payload: payload,
	}
}

// Answer builds the reply to a two-way quest.
func Answer(quest *Frame, status byte, payload []byte) *Frame {
	return &Frame{
		Flag:    FlagMsgpack,
		MType:   MTypeAnswer,
		Status:  status,
		Seq:     quest.Seq,
		Payload: payload,
	}
}

// Marshal encodes the frame for one WebSocket binary message.
//
// Layout: version, flag, mtype, then for quests a length-prefixed method name
// (plus a big-endian seq for two-way quests), for answers a status byte and
// the correlated seq. Payload bytes follow unframed.
func (f *Frame) Marshal() ([]byte, error) {
	if f.IsQuest() {
		if f.Method == "" || len(f.Method) > 255 {
			return nil, fmt.Errorf("wire: bad method name %q", f.Method)
		}
		buf := make([]byte, 0, 8+len(f.Method)+len(f.Payload))
		buf = append(buf, protocolVersion, f.Flag, f.MType, byte(len(f.Method)))
		buf = append(buf, f.Method...)
		if f.MType == MTypeTwoWay {
			buf = binary.BigEndian.AppendUint32(buf, f.Seq)
		}
		return append(buf, f.Payload...), nil
	}

	buf := make([]byte, 0, 8+len(f.Payload))
	buf = append(buf, protocolVersion, f.Flag, f.MType, f.Status)
	buf = binary.BigEndian.AppendUint32(buf, f.Seq)
	return append(buf, f.Payload...), nil
}

// Unmarshal decodes a single frame. The input slice is not retained.
func Unmarshal(data []byte) (*Frame, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("wire: short frame (%d bytes)", len(data))
	}
	if data[0] != protocolVersion {
		return nil, fmt.Errorf("wire: unsupported protocol version %d", data[0])
	}

	f := &Frame{Flag: data[1], MType: data[2]}

	switch f.MType {
	case MTypeOneWay, MTypeTwoWay:
		mlen := int(data[3])
		rest := data[4:]
		if len(rest) < mlen {
			return nil, fmt.Errorf("wire: truncated method name")
		}
		f.Method = string(rest[:mlen])
		rest = rest[mlen:]
		if f.MType == MTypeTwoWay {
			if len(rest) < 4 {
				return nil, fmt.Errorf("wire: truncated quest seq")
			}
			f.Seq = binary.BigEndian.Uint32(rest[:4])
			rest = rest[4:]
		}
		f.Payload = append([]byte(nil), rest...)
	case MTypeAnswer:
		f.Status = data[3]
		if len(data) < 8 {
			return nil, fmt.Errorf("wire: truncated answer seq")
		}
		f.Seq = binary.BigEndian.Uint32(data[4:8])
		f.Payload = append([]byte(nil), data[8:]...)
	default:
		return nil, fmt.Errorf("wire: unknown mtype %d", f.MType)
	}

	return f, nil
}

// EncodePayload serializes a string-keyed value map (or a msgpack-tagged
// struct) for use as a frame payload.
func EncodePayload(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// DecodePayload deserializes a payload into a string-keyed value map. Empty
// payloads decode to an empty map.
func DecodePayload(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("wire: decode payload: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
