package rtm

import "time"

// Continuation types of the RPC surface. Every callback fires exactly once
// with either a decoded result or an error, never on the caller's stack
// beyond the fail-fast not-connected case.
type (
	// DoneCallback acknowledges quests with no meaningful answer payload.
	DoneCallback func(err error)
	// MidCallback reports a send operation: the resolved message id (also
	// when the call fails after mid assignment) and the server receive time.
	MidCallback func(mid int64, mtime int64, err error)
	// IDsCallback delivers id-list answers (friends, members, groups...).
	IDsCallback func(ids []int64, err error)
	// HistoryCallback delivers one page of message history.
	HistoryCallback func(res *HistoryResult, err error)
)

func (c *Client) doneQuest(method string, payload map[string]any, timeout time.Duration, cb DoneCallback) {
	c.sendQuest(method, payload, func(_ map[string]any, err error) {
		if cb != nil {
			cb(err)
		}
	}, timeout)
}

// ========================= messaging =========================

// SendMessage sends a peer-to-peer message of an arbitrary mtype. A zero mid
// assigns a fresh one; the callback receives the resolved mid.
func (c *Client) SendMessage(to int64, mtype byte, msg, attrs string, mid int64, timeout time.Duration, cb MidCallback) {
	c.sendMsg("sendmsg", map[string]any{"to": to}, mtype, msg, attrs, mid, timeout, cb)
}

// SendGroupMessage sends a message to every member of a group.
func (c *Client) SendGroupMessage(gid int64, mtype byte, msg, attrs string, mid int64, timeout time.Duration, cb MidCallback) {
	c.sendMsg("sendgroupmsg", map[string]any{"gid": gid}, mtype, msg, attrs, mid, timeout, cb)
}

// SendRoomMessage sends a message to everyone currently in a room.
func (c *Client) SendRoomMessage(rid int64, mtype byte, msg, attrs string, mid int64, timeout time.Duration, cb MidCallback) {
	c.sendMsg("sendroommsg", map[string]any{"rid": rid}, mtype, msg, attrs, mid, timeout, cb)
}

// SendBroadcastMessage sends a message to every online user of the project.
func (c *Client) SendBroadcastMessage(mtype byte, msg, attrs string, mid int64, timeout time.Duration, cb MidCallback) {
	c.sendMsg("sendbroadcastmsg", map[string]any{}, mtype, msg, attrs, mid, timeout, cb)
}

func (c *Client) sendMsg(method string, payload map[string]any, mtype byte, msg, attrs string, mid int64, timeout time.Duration, cb MidCallback) {
	if mid == 0 {
		mid = c.midGen.next()
	}
	payload["mid"] = mid
	payload["mtype"] = mtype
	payload["msg"] = msg
	payload["attrs"] = attrs

	c.sendQuest(method, payload, func(m map[string]any, err error) {
		if cb == nil {
			return
		}
		if err != nil {
			cb(mid, 0, err)
			return
		}
		cb(mid, asInt64(m["mtime"]), nil)
	}, timeout)
}

// DeleteMessage retracts a sent message. xid is the conversation id the
// message went to (peer uid, group id or room id) and scope selects its kind.
func (c *Client) DeleteMessage(mid, xid int64, scope Scope, timeout time.Duration, cb DoneCallback) {
	c.doneQuest("delmsg", map[string]any{"mid": mid, "xid": xid, "type": int(scope)}, timeout, cb)
}

// ========================= history =========================

// HistoryQuery pages through stored messages. Num is the page size; Desc
// walks backwards. Begin/End bound the server timestamps and LastID continues
// from a previous page; zero values are omitted from the quest.
type HistoryQuery struct {
	Desc   bool
	Num    int
	Begin  int64
	End    int64
	LastID int64
}

func (q HistoryQuery) payload(extra map[string]any) map[string]any {
	p := map[string]any{"desc": q.Desc, "num": q.Num}
	if q.Begin > 0 {
		p["begin"] = q.Begin
	}
	if q.End > 0 {
		p["end"] = q.End
	}
	if q.LastID > 0 {
		p["lastid"] = q.LastID
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

// GetP2PMessage fetches stored history with the peer ouid.
func (c *Client) GetP2PMessage(ouid int64, q HistoryQuery, timeout time.Duration, cb HistoryCallback) {
	c.history("getp2pmsg", q.payload(map[string]any{"ouid": ouid}), true, timeout, cb)
}

// GetGroupMessage fetches stored group history.
func (c *Client) GetGroupMessage(gid int64, q HistoryQuery, timeout time.Duration, cb HistoryCallback) {
	c.history("getgroupmsg", q.payload(map[string]any{"gid": gid}), false, timeout, cb)
}

// GetRoomMessage fetches stored room history.
func (c *Client) GetRoomMessage(rid int64, q HistoryQuery, timeout time.Duration, cb HistoryCallback) {
	c.history("getroommsg", q.payload(map[string]any{"rid": rid}), false, timeout, cb)
}

// GetBroadcastMessage fetches stored broadcast history.
func (c *Client) GetBroadcastMessage(q HistoryQuery, timeout time.Duration, cb HistoryCallback) {
	c.history("getbroadcastmsg", q.payload(nil), false, timeout, cb)
}

// history decodes the row-array answer shared by the four history quests.
// p2p rows carry a direction byte where the other scopes carry the sender.
func (c *Client) history(method string, payload map[string]any, p2p bool, timeout time.Duration, cb HistoryCallback) {
	c.sendQuest(method, payload, func(m map[string]any, err error) {
		if cb == nil {
			return
		}
		if err != nil {
			cb(nil, err)
			return
		}

		res := &HistoryResult{
			Num:    int(asInt64(m["num"])),
			LastID: asInt64(m["lastid"]),
			Begin:  asInt64(m["begin"]),
			End:    asInt64(m["end"]),
		}
		for _, row := range asAnySlice(m["msgs"]) {
			cols := asAnySlice(row)
			if len(cols) < 8 {
				continue
			}
			hm := HistoryMessage{
				ID:      asInt64(cols[0]),
				MType:   byte(asInt64(cols[2])),
				Mid:     asInt64(cols[3]),
				Deleted: asBool(cols[4]),
				Msg:     asString(cols[5]),
				Attrs:   asString(cols[6]),
				MTime:   asInt64(cols[7]),
			}
			if p2p {
				hm.Direction = byte(asInt64(cols[1]))
			} else {
				hm.From = asInt64(cols[1])
			}
			res.Msgs = append(res.Msgs, hm)
		}
		cb(res, nil)
	}, timeout)
}

// ========================= session state =========================

// GetUnreadMessage reports unread counters per p2p conversation and group.
func (c *Client) GetUnreadMessage(timeout time.Duration, cb func(p2p, group map[string]int64, err error)) {
	c.sendQuest("getunreadmsg", map[string]any{}, func(m map[string]any, err error) {
		if cb == nil {
			return
		}
		if err != nil {
			cb(nil, nil, err)
			return
		}
		cb(asInt64Map(m["p2p"]), asInt64Map(m["group"]), nil)
	}, timeout)
}

// CleanUnreadMessage resets all unread counters.
func (c *Client) CleanUnreadMessage(timeout time.Duration, cb DoneCallback) {
	c.doneQuest("cleanunreadmsg", map[string]any{}, timeout, cb)
}

// GetSession reports the last-activity timestamps per p2p conversation and
// group.
func (c *Client) GetSession(timeout time.Duration, cb func(p2p, group map[string]int64, err error)) {
	c.sendQuest("getsession", map[string]any{}, func(m map[string]any, err error) {
		if cb == nil {
			return
		}
		if err != nil {
			cb(nil, nil, err)
			return
		}
		cb(asInt64Map(m["p2p"]), asInt64Map(m["group"]), nil)
	}, timeout)
}

// ========================= attributes & devices =========================

// AddAttrs merges attrs into the session attributes stored server-side.
func (c *Client) AddAttrs(attrs map[string]string, timeout time.Duration, cb DoneCallback) {
	c.doneQuest("addattrs", map[string]any{"attrs": attrs}, timeout, cb)
}

// GetAttrs fetches the attribute sets of this user's active sessions.
func (c *Client) GetAttrs(timeout time.Duration, cb func(attrs []map[string]string, err error)) {
	c.sendQuest("getattrs", map[string]any{}, func(m map[string]any, err error) {
		if cb == nil {
			return
		}
		if err != nil {
			cb(nil, err)
			return
		}
		var out []map[string]string
		for _, item := range asAnySlice(m["attrs"]) {
			out = append(out, asStringMap(item))
		}
		cb(out, nil)
	}, timeout)
}

// AddDebugLog ships a client-side log line to the server.
func (c *Client) AddDebugLog(msg, attrs string, timeout time.Duration, cb DoneCallback) {
	c.doneQuest("adddebuglog", map[string]any{"msg": msg, "attrs": attrs}, timeout, cb)
}

// AddDevice registers a push-notification device token.
func (c *Client) AddDevice(appType, deviceToken string, timeout time.Duration, cb DoneCallback) {
	c.doneQuest("adddevice", map[string]any{"apptype": appType, "devicetoken": deviceToken}, timeout, cb)
}

// RemoveDevice unregisters a push-notification device token.
func (c *Client) RemoveDevice(deviceToken string, timeout time.Duration, cb DoneCallback) {
	c.doneQuest("removedevice", map[string]any{"devicetoken": deviceToken}, timeout, cb)
}

// ========================= translation =========================

// SetTranslationLanguage enables server-side translation of incoming chat
// into the target language.
func (c *Client) SetTranslationLanguage(lang string, timeout time.Duration, cb DoneCallback) {
	c.doneQuest("setlang", map[string]any{"lang": lang}, timeout, cb)
}

// Translate translates text without sending it. src may be empty for
// auto-detection.
func (c *Client) Translate(text, src, dst string, timeout time.Duration, cb func(res *TranslateResult, err error)) {
	payload := map[string]any{"text": text, "dst": dst}
	if src != "" {
		payload["src"] = src
	}
	c.sendQuest("translate", payload, func(m map[string]any, err error) {
		if cb == nil {
			return
		}
		if err != nil {
			cb(nil, err)
			return
		}
		cb(&TranslateResult{
			Source:     asString(m["src"]),
			SourceText: asString(m["stext"]),
			Target:     asString(m["dst"]),
			TargetText: asString(m["dtext"]),
		}, nil)
	}, timeout)
}

// ========================= friends =========================

func (c *Client) AddFriends(friends []int64, timeout time.Duration, cb DoneCallback) {
	c.doneQuest("addfriends", map[string]any{"friends": friends}, timeout, cb)
}

func (c *Client) DeleteFriends(friends []int64, timeout time.Duration, cb DoneCallback) {
	c.doneQuest("delfriends", map[string]any{"friends": friends}, timeout, cb)
}

func (c *Client) GetFriends(timeout time.Duration, cb IDsCallback) {
	c.idsQuest("getfriends", map[string]any{}, "uids", timeout, cb)
}

// ========================= groups =========================

func (c *Client) AddGroupMembers(gid int64, uids []int64, timeout time.Duration, cb DoneCallback) {
	c.doneQuest("addgroupmembers", map[string]any{"gid": gid, "uids": uids}, timeout, cb)
}

func (c *Client) DeleteGroupMembers(gid int64, uids []int64, timeout time.Duration, cb DoneCallback) {
	c.doneQuest("delgroupmembers", map[string]any{"gid": gid, "uids": uids}, timeout, cb)
}

func (c *Client) GetGroupMembers(gid int64, timeout time.Duration, cb IDsCallback) {
	c.idsQuest("getgroupmembers", map[string]any{"gid": gid}, "uids", timeout, cb)
}

func (c *Client) GetUserGroups(timeout time.Duration, cb IDsCallback) {
	c.idsQuest("getusergroups", map[string]any{}, "gids", timeout, cb)
}

// ========================= rooms =========================

func (c *Client) EnterRoom(rid int64, timeout time.Duration, cb DoneCallback) {
	c.doneQuest("enterroom", map[string]any{"rid": rid}, timeout, cb)
}

func (c *Client) LeaveRoom(rid int64, timeout time.Duration, cb DoneCallback) {
	c.doneQuest("leaveroom", map[string]any{"rid": rid}, timeout, cb)
}

func (c *Client) GetUserRooms(timeout time.Duration, cb IDsCallback) {
	c.idsQuest("getuserrooms", map[string]any{}, "rooms", timeout, cb)
}

// ========================= presence & misc =========================

// GetOnlineUsers filters uids down to the ones currently online.
func (c *Client) GetOnlineUsers(uids []int64, timeout time.Duration, cb IDsCallback) {
	c.idsQuest("getonlineusers", map[string]any{"uids": uids}, "uids", timeout, cb)
}

// KickoutSession evicts another login session of this user, identified by its
// connection endpoint descriptor (the "ce" attribute from GetAttrs).
func (c *Client) KickoutSession(ce string, timeout time.Duration, cb DoneCallback) {
	c.doneQuest("kickout", map[string]any{"ce": ce}, timeout, cb)
}

// DBGet reads this user's server-side key-value storage.
func (c *Client) DBGet(key string, timeout time.Duration, cb func(val string, err error)) {
	c.sendQuest("dbget", map[string]any{"key": key}, func(m map[string]any, err error) {
		if cb == nil {
			return
		}
		if err != nil {
			cb("", err)
			return
		}
		cb(asString(m["val"]), nil)
	}, timeout)
}

// DBSet writes this user's server-side key-value storage.
func (c *Client) DBSet(key, val string, timeout time.Duration, cb DoneCallback) {
	c.doneQuest("dbset", map[string]any{"key": key, "val": val}, timeout, cb)
}

// FileToken requests an upload token without performing the upload; most
// callers want SendFile and friends instead.
func (c *Client) FileToken(cmd string, tos []int64, to, rid, gid int64, timeout time.Duration, cb func(token, endpoint string, err error)) {
	payload := map[string]any{"cmd": cmd}
	if len(tos) > 0 {
		payload["tos"] = tos
	}
	if to > 0 {
		payload["to"] = to
	}
	if rid > 0 {
		payload["rid"] = rid
	}
	if gid > 0 {
		payload["gid"] = gid
	}
	c.sendQuest("filetoken", payload, func(m map[string]any, err error) {
		if cb == nil {
			return
		}
		if err != nil {
			cb("", "", err)
			return
		}
		cb(asString(m["token"]), asString(m["endpoint"]), nil)
	}, timeout)
}

func (c *Client) idsQuest(method string, payload map[string]any, key string, timeout time.Duration, cb IDsCallback) {
	c.sendQuest(method, payload, func(m map[string]any, err error) {
		if cb == nil {
			return
		}
		if err != nil {
			cb(nil, err)
			return
		}
		cb(asInt64Slice(m[key]), nil)
	}, timeout)
}
