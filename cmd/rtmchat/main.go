// Command rtmchat is a terminal chat client on top of pkg/rtm: it logs in,
// prints incoming pushes and sends whatever you type.
//
//	rtmchat -conf conf/rtmchat.toml
//	> /to 778899        switch the peer
//	> hello there       send a chat message
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/nexlink/rtmgo/pkg/rtm"
)

type conf struct {
	Dispatch  string            `toml:"dispatch"`
	Endpoint  string            `toml:"endpoint"`
	PID       int32             `toml:"pid"`
	UID       int64             `toml:"uid"`
	Token     string            `toml:"token"`
	Attrs     map[string]string `toml:"attrs"`
	Reconnect bool              `toml:"reconnect"`
	Peer      int64             `toml:"peer"`
	Verbose   bool              `toml:"verbose"`
}

func mustRead(path string, out *conf) {
	if _, err := toml.DecodeFile(path, out); err != nil {
		log.Fatal(err)
	}
}

var (
	chatColor = color.New(color.FgGreen)
	sysColor  = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
)

func main() {
	confPath := flag.String("conf", "conf/rtmchat.toml", "config file")
	flag.Parse()

	var cfg conf
	mustRead(*confPath, &cfg)

	logger := zap.NewNop()
	if cfg.Verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			log.Fatal(err)
		}
		defer logger.Sync()
	}

	client := rtm.NewClient(rtm.Config{
		Dispatch:  cfg.Dispatch,
		PID:       cfg.PID,
		UID:       cfg.UID,
		Token:     cfg.Token,
		Attrs:     cfg.Attrs,
		Reconnect: cfg.Reconnect,
		Logger:    logger,
	})
	defer client.Destroy()

	loggedIn := make(chan error, 1)
	client.OnLogin = func(endpoint string, err error) {
		if err != nil {
			errColor.Printf("login failed: %v\n", err)
		} else {
			sysColor.Printf("logged in via %s\n", endpoint)
		}
		select {
		case loggedIn <- err:
		default:
		}
	}
	client.OnClosed = func(willRetry bool) {
		if willRetry {
			sysColor.Println("connection lost, reconnecting...")
		} else {
			sysColor.Println("connection closed")
		}
	}
	client.Pushes.OnChat = func(m rtm.Message) {
		text := m.Text
		if m.Translated != nil {
			text = fmt.Sprintf("%s (from %s: %s)",
				m.Translated.TargetText, m.Translated.Source, m.Translated.SourceText)
		}
		chatColor.Printf("[%s] %d: %s\n", scopeName(m.Scope), m.From, text)
	}
	client.Pushes.OnCmd = func(m rtm.Message) {
		sysColor.Printf("[cmd] %d: %s\n", m.From, m.Text)
	}
	client.Pushes.OnFile = func(m rtm.Message) {
		sysColor.Printf("[file] %d: %s\n", m.From, m.Text)
	}
	client.Pushes.OnKickout = func() {
		errColor.Println("kicked out by the server")
		os.Exit(1)
	}

	client.Login(cfg.Endpoint)
	if err := <-loggedIn; err != nil {
		os.Exit(1)
	}

	peer := cfg.Peer
	sysColor.Printf("chatting with %d, type /to <uid> to switch\n", peer)

	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if uid, ok := strings.CutPrefix(line, "/to "); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(uid), 10, 64)
			if err != nil {
				errColor.Println("bad uid")
				continue
			}
			peer = n
			sysColor.Printf("now chatting with %d\n", peer)
			continue
		}
		client.SendMessage(peer, rtm.MTypeChat, line, "", 0, 10*time.Second,
			func(mid, mtime int64, err error) {
				if err != nil {
					errColor.Printf("send failed: %v\n", err)
				}
			})
	}

	client.Close()
}

func scopeName(s rtm.Scope) string {
	switch s {
	case rtm.ScopeP2P:
		return "p2p"
	case rtm.ScopeGroup:
		return "group"
	case rtm.ScopeRoom:
		return "room"
	case rtm.ScopeBroadcast:
		return "bcast"
	}
	return "?"
}
