package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/gateway"
	"github.com/vovakirdan/pollchat/internal/proto"
	"github.com/vovakirdan/pollchat/internal/session"
)

func main() {
	if err := run(); err != nil {
		log.Printf("poll_smoke: %v", err)
		os.Exit(1)
	}
}

// run registers two throwaway accounts on a running chatsim, sends a direct
// message from one to the other and waits for it to arrive through the poll.
func run() error {
	baseURL := flag.String("url", "http://localhost:8080", "chatsim base URL")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	suffix := uuid.NewString()[:8]
	sender, receiver := "smoke-a-"+suffix, "smoke-b-"+suffix
	const password = "smoke-password"
	for _, name := range []string{sender, receiver} {
		if err := register(ctx, *baseURL, name, password); err != nil {
			return err
		}
	}

	from, err := login(ctx, *baseURL, sender, password)
	if err != nil {
		return err
	}
	defer from.Logout(context.Background())
	to, err := login(ctx, *baseURL, receiver, password)
	if err != nil {
		return err
	}
	defer to.Logout(context.Background())

	received := make(chan core.Message, 1)
	to.Events().Register(core.EventMessageReceived, func(_ context.Context, ev core.Event) error {
		select {
		case received <- *ev.Message:
		default:
		}
		return nil
	})
	if err := to.Subscribe(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	sent, err := from.SendMessage(ctx, core.DirectPrefix+receiver, *text)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Printf("Sent message id=%s chat=%s\n", sent.ID, sent.ChatID)

	select {
	case m := <-received:
		fmt.Printf("Received message id=%s chat=%s from=%s body=%q\n", m.ID, m.ChatID, m.Sender, m.Body)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for message: %w", ctx.Err())
	}
}

func register(ctx context.Context, baseURL, username, password string) error {
	body, err := json.Marshal(proto.RegisterRequest{Username: username, Password: password})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("register %s: %w", username, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("register %s: unexpected status %d", username, resp.StatusCode)
	}
	return nil
}

func login(ctx context.Context, baseURL, username, password string) (*session.Session, error) {
	gw, err := gateway.NewHTTP(gateway.HTTPConfig{BaseURL: baseURL, PollTimeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	s, err := session.New(gw, session.Config{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	if err := s.Login(ctx); err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}
	return s, nil
}
