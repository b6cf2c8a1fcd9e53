package rtm

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// SendFile sends file content to a peer. A zero mid assigns a fresh one; the
// continuation receives the resolved mid either way.
func (c *Client) SendFile(mtype byte, to int64, file []byte, mid int64, timeout time.Duration, cb MidCallback) {
	c.fileSend("sendfile", map[string]any{"to": to}, mtype, file, mid, timeout, cb)
}

// SendGroupFile sends file content to a group.
func (c *Client) SendGroupFile(mtype byte, gid int64, file []byte, mid int64, timeout time.Duration, cb MidCallback) {
	c.fileSend("sendgroupfile", map[string]any{"gid": gid}, mtype, file, mid, timeout, cb)
}

// SendRoomFile sends file content to a room.
func (c *Client) SendRoomFile(mtype byte, rid int64, file []byte, mid int64, timeout time.Duration, cb MidCallback) {
	c.fileSend("sendroomfile", map[string]any{"rid": rid}, mtype, file, mid, timeout, cb)
}

// fileSend is the two-step upload: ask the gate for a file token and the
// file-gate endpoint, then push the content over a short-lived connection to
// that endpoint with an md5 sign binding the content to the token.
func (c *Client) fileSend(cmd string, target map[string]any, mtype byte, file []byte, mid int64, timeout time.Duration, cb MidCallback) {
	if len(file) == 0 {
		if cb != nil {
			cb(0, 0, errors.New("rtm: empty file bytes"))
		}
		return
	}
	if mid == 0 {
		mid = c.midGen.next()
	}

	payload := map[string]any{"cmd": cmd}
	for k, v := range target {
		payload[k] = v
	}

	c.sendQuest("filetoken", payload, func(m map[string]any, err error) {
		if err != nil {
			if cb != nil {
				cb(mid, 0, err)
			}
			return
		}
		token := asString(m["token"])
		endpoint := asString(m["endpoint"])
		if token == "" || endpoint == "" {
			if cb != nil {
				cb(mid, 0, errors.New("rtm: bad file token answer"))
			}
			return
		}
		// The upload blocks on a second connection; keep it off the
		// continuation's caller (the network read path).
		go c.uploadFile(endpoint, cmd, target, token, mtype, file, mid, timeout, cb)
	}, timeout)
}

func (c *Client) uploadFile(endpoint, cmd string, target map[string]any, token string, mtype byte, file []byte, mid int64, timeout time.Duration, cb MidCallback) {
	fileMd5 := md5Hex(file)
	sign := md5Hex([]byte(fileMd5 + ":" + token))
	attrs, _ := json.Marshal(map[string]string{"sign": sign})

	payload := map[string]any{
		"pid":   c.cfg.PID,
		"from":  c.cfg.UID,
		"mtype": mtype,
		"mid":   mid,
		"token": token,
		"file":  file,
		"attrs": string(attrs),
	}
	for k, v := range target {
		payload[k] = v
	}

	m, err := c.callOneShot(endpoint, cmd, payload, timeout)
	if cb == nil {
		return
	}
	if err != nil {
		cb(mid, 0, err)
		return
	}
	cb(mid, asInt64(m["mtime"]), nil)
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
