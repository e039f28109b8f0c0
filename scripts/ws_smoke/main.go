package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"

	"github.com/ndemidenko/relaychat-server/internal/proto"
)

// Smoke client: authenticates a websocket connection with an issued token
// and optionally posts one message, printing every frame it receives.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", "", "credential issued by /api/login")
	channel := flag.String("channel", "", "channel id to post into (optional)")
	body := flag.String("body", "hello from smoke test", "message body to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *token == "" {
		return fmt.Errorf("-token is required; obtain one via POST /api/login")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(action string, payload any) error {
		raw, err := proto.Encode(action, payload)
		if err != nil {
			return fmt.Errorf("encode %s: %w", action, err)
		}
		if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
			return fmt.Errorf("send %s: %w", action, err)
		}
		return nil
	}

	if err := send(proto.ActionAuth, *token); err != nil {
		return err
	}

	if *channel != "" {
		if err := send(proto.ActionCreateMessage, proto.MessageDraft{
			ChannelID: *channel,
			Body:      *body,
		}); err != nil {
			return err
		}
	}

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		frame, err := proto.Decode(raw)
		if err != nil {
			fmt.Printf("received undecodable frame: %s\n", raw)
			continue
		}
		fmt.Printf("received action=%s payload=%s\n", frame.Action, frame.Payload)
	}
}
