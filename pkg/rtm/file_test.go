package rtm

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nexlink/rtmgo/internal/wire"
)

func TestSendFileUploadsThroughFileGate(t *testing.T) {
	fileBytes := []byte("these are the file bytes")
	const token = "tok-1"

	d := &dialer{}
	d.respond = func(fc *fakeConn, f *wire.Frame) {
		switch f.Method {
		case "filetoken":
			fc.answer(f, 0, map[string]any{"token": token, "endpoint": "file-gate:1"})
		case "sendfile":
			fc.answer(f, 0, map[string]any{"mtime": int64(888)})
		default:
			authOK(fc, f)
		}
	}
	c := newTestClient(t, Config{PID: 7, UID: 2}, d)
	logins := collectLogins(c)
	mustLogin(t, c, logins, "gate-a:1")

	type sent struct {
		mid, mtime int64
		err        error
	}
	got := make(chan sent, 1)
	c.SendFile(MTypeFileStart, 99, fileBytes, 0, time.Minute,
		func(mid, mtime int64, err error) { got <- sent{mid, mtime, err} })

	var s sent
	select {
	case s = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no file-send callback")
	}
	if s.err != nil {
		t.Fatal(s.err)
	}
	if s.mid == 0 || s.mtime != 888 {
		t.Fatalf("mid/mtime = %d/%d", s.mid, s.mtime)
	}

	// The upload went over a second, short-lived connection to the file gate.
	if d.count() != 2 {
		t.Fatalf("dialed %d conns, want gate + file gate", d.count())
	}
	fg := d.at(1)
	if fg.endpoint != "file-gate:1" {
		t.Fatalf("upload endpoint = %s", fg.endpoint)
	}
	if fg.Connected() {
		t.Fatal("file-gate connection left open")
	}

	frames := fg.sentFrames()
	if len(frames) != 1 || frames[0].Method != "sendfile" {
		t.Fatalf("file-gate frames = %+v", frames)
	}
	m, err := wire.DecodePayload(frames[0].Payload)
	if err != nil {
		t.Fatal(err)
	}
	if asString(m["token"]) != token || asInt64(m["mid"]) != s.mid {
		t.Fatalf("upload payload = %v", m)
	}
	if asInt64(m["pid"]) != 7 || asInt64(m["from"]) != 2 || asInt64(m["to"]) != 99 {
		t.Fatalf("upload payload = %v", m)
	}
	if !bytes.Equal(asBytes(m["file"]), fileBytes) {
		t.Fatal("file bytes mangled")
	}

	// The sign binds the content to the token: md5hex(md5hex(file) ":" token).
	var attrs map[string]string
	if err := json.Unmarshal([]byte(asString(m["attrs"])), &attrs); err != nil {
		t.Fatalf("attrs not JSON: %v", err)
	}
	fileSum := md5.Sum(fileBytes)
	signSum := md5.Sum([]byte(hex.EncodeToString(fileSum[:]) + ":" + token))
	if want := hex.EncodeToString(signSum[:]); attrs["sign"] != want {
		t.Fatalf("sign = %q, want %q", attrs["sign"], want)
	}
}

func TestSendFileTokenFailure(t *testing.T) {
	d := &dialer{}
	d.respond = func(fc *fakeConn, f *wire.Frame) {
		if f.Method == "filetoken" {
			fc.answer(f, 20, map[string]any{"code": int64(7), "ex": "no token"})
			return
		}
		authOK(fc, f)
	}
	c := newTestClient(t, Config{PID: 1, UID: 2}, d)
	logins := collectLogins(c)
	mustLogin(t, c, logins, "gate-a:1")

	got := make(chan error, 1)
	c.SendGroupFile(MTypeFileStart, 9, []byte("x"), 0, time.Minute,
		func(_, _ int64, err error) { got <- err })

	select {
	case err := <-got:
		var ae *AnswerError
		if !errors.As(err, &ae) || ae.Code != 7 {
			t.Fatalf("err = %v, want AnswerError code 7", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no callback")
	}
	if d.count() != 1 {
		t.Fatal("dialed the file gate without a token")
	}
}

func TestSendFileRejectsEmptyContent(t *testing.T) {
	d := &dialer{respond: authOK}
	c := newTestClient(t, Config{PID: 1, UID: 2}, d)
	logins := collectLogins(c)
	mustLogin(t, c, logins, "gate-a:1")

	got := make(chan error, 1)
	c.SendFile(MTypeFileStart, 99, nil, 0, time.Minute,
		func(_, _ int64, err error) { got <- err })

	select {
	case err := <-got:
		if err == nil {
			t.Fatal("empty file accepted")
		}
	case <-time.After(time.Second):
		t.Fatal("no callback")
	}

	// No filetoken quest was issued for an empty file.
	for _, f := range d.at(0).sentFrames() {
		if f.Method == "filetoken" {
			t.Fatal("filetoken requested for empty file")
		}
	}
}

func TestSendFileUploadTimeout(t *testing.T) {
	d := &dialer{}
	d.respond = func(fc *fakeConn, f *wire.Frame) {
		switch f.Method {
		case "filetoken":
			fc.answer(f, 0, map[string]any{"token": "tok-1", "endpoint": "file-gate:1"})
		case "sendfile":
			// The file gate never answers.
		default:
			authOK(fc, f)
		}
	}
	c := newTestClient(t, Config{PID: 1, UID: 2}, d)
	logins := collectLogins(c)
	mustLogin(t, c, logins, "gate-a:1")

	got := make(chan error, 1)
	c.SendRoomFile(MTypeFileStart, 5, []byte("x"), 0, 50*time.Millisecond,
		func(_, _ int64, err error) { got <- err })

	select {
	case err := <-got:
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("err = %v, want ErrTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("upload never timed out")
	}
	// The one-shot connection is torn down on the timeout path too.
	waitFor(t, "file-gate teardown", func() bool { return !d.at(1).Connected() })
}
