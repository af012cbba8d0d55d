package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/session"
)

const timeLayout = "15:04:05"

func newFollowCmd(opts *rootOptions) *cobra.Command {
	var kinds []string

	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Print events as they arrive until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wanted, err := parseKinds(kinds)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return opts.withSession(ctx, func(s *session.Session) error {
				out := cmd.OutOrStdout()
				for _, kind := range wanted {
					s.Events().Register(kind, func(_ context.Context, ev core.Event) error {
						printEvent(out, ev)
						return nil
					})
				}
				if err := s.Subscribe(ctx); err != nil {
					return fmt.Errorf("subscribe: %w", err)
				}
				return waitSession(ctx, s)
			})
		},
	}

	cmd.Flags().StringSliceVar(&kinds, "events", nil, "event kinds to print (default all)")
	return cmd
}

// waitSession blocks until ctx ends or the session is invalidated by the service.
func waitSession(ctx context.Context, s *session.Session) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.State() == session.StateLoggedOut {
				return errors.New("session ended by the service")
			}
		}
	}
}

func parseKinds(names []string) ([]core.EventKind, error) {
	if len(names) == 0 {
		return core.EventKinds(), nil
	}
	byName := make(map[string]core.EventKind)
	for _, k := range core.EventKinds() {
		byName[k.String()] = k
	}
	kinds := make([]core.EventKind, 0, len(names))
	for _, name := range names {
		k, ok := byName[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unknown event kind %q", name)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func printEvent(w io.Writer, ev core.Event) {
	switch ev.Kind {
	case core.EventMessageReceived, core.EventMessageEdited:
		printMessage(w, ev.Kind.String(), *ev.Message)
	case core.EventContactChanged:
		c := ev.Contact
		fmt.Fprintf(w, "%s %s presence=%s mood=%q\n", ev.Kind, c.Username(), c.Presence(), c.Mood())
	case core.EventChatMembershipChanged:
		action := "left"
		if ev.Joined {
			action = "joined"
		}
		fmt.Fprintf(w, "%s %s %s %s\n", ev.Kind, ev.Chat.ID(), ev.Member, action)
	case core.EventChatTopicChanged:
		fmt.Fprintf(w, "%s %s %q\n", ev.Kind, ev.Chat.ID(), ev.Topic)
	case core.EventConnectionError:
		fmt.Fprintf(w, "%s %v\n", ev.Kind, ev.Err)
	}
}

func printMessage(w io.Writer, prefix string, m core.Message) {
	edited := ""
	if m.Edited() {
		edited = " (edited)"
	}
	fmt.Fprintf(w, "%s [%s] %s %s: %s%s\n", prefix, m.SentAt.Local().Format(timeLayout), m.ChatID, m.Sender, m.Body, edited)
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <chat-id>",
		Short: "Print a chat's members, topic and recent messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd.Context(), func(s *session.Session) error {
				chat, err := s.LoadChat(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "chat %s (%s)\n", chat.ID(), chat.Kind())
				if topic := chat.Topic(); topic != "" {
					fmt.Fprintf(out, "topic: %s\n", topic)
				}
				fmt.Fprintf(out, "members: %s\n", strings.Join(chat.Members(), ", "))
				for _, m := range chat.Messages() {
					printMessage(out, "", m)
				}
				return nil
			})
		},
	}
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <chat-id> <message>...",
		Short: "Send a message to a chat",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd.Context(), func(s *session.Session) error {
				m, err := s.SendMessage(cmd.Context(), args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", m.ID, m.ChatID)
				return nil
			})
		},
	}
}

func newGroupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "group <username>...",
		Short: "Create a group chat with the given contacts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd.Context(), func(s *session.Session) error {
				chat, err := s.CreateGroupChat(cmd.Context(), args...)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), chat.ID())
				return nil
			})
		},
	}
}

func newContactCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "contact <username>",
		Short: "Print a contact's profile and presence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd.Context(), func(s *session.Session) error {
				c, err := s.LoadContact(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) presence=%s mood=%q\n",
					c.Username(), c.DisplayName(), c.Presence(), c.Mood())
				return nil
			})
		},
	}
}
