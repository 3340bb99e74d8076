package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/npezzotti/synapse-chat/internal/client"
	"github.com/npezzotti/synapse-chat/internal/server"
	"github.com/spf13/cobra"
)

var chatVerbose bool

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "log connection state changes")
}

var chatCmd = &cobra.Command{
	Use:   "chat [chat-id...]",
	Short: "Join chats and talk in realtime",
	Long: "Connect to the server, join the given chats (or the rooms from the config)\n" +
		"and send each input line to the active chat.\n\n" +
		"Commands: /join <id>, /leave <id>, /switch <id>, /status online|away, /quit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSession()
		if err != nil {
			return err
		}
		rcfg, err := cfg.Reconnect.ClientConfig()
		if err != nil {
			return err
		}

		rooms := args
		if len(rooms) == 0 {
			rooms = cfg.Chat.Rooms
		}

		logOut := io.Discard
		if chatVerbose {
			logOut = cmd.ErrOrStderr()
		}
		logger := log.New(logOut, "[chatclient] ", log.LstdFlags)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := client.New(&client.WebsocketTransport{
			URL:   cfg.serverURL() + "/ws",
			Token: cfg.Server.Token,
		}, logger, rcfg)
		defer c.Close()

		out := cmd.OutOrStdout()
		c.OnEvent(func(ev client.Event) {
			if line := renderEvent(ev); line != "" {
				fmt.Fprintln(out, line)
			}
		})
		c.OnStateChange(func(s client.State) {
			fmt.Fprintf(out, "* %s\n", s)
		})

		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}

		sess := &chatSession{client: c, out: out}
		for _, r := range rooms {
			if err := sess.join(r); err != nil {
				return err
			}
		}

		return sess.run(ctx, cmd.InOrStdin())
	},
}

// chatSession applies input lines to a connected client.
type chatSession struct {
	client  *client.Client
	out     io.Writer
	active  string
	typists map[string]*client.TypingNotifier
}

func (s *chatSession) typist(chatId string) *client.TypingNotifier {
	if s.typists == nil {
		s.typists = make(map[string]*client.TypingNotifier)
	}
	n, ok := s.typists[chatId]
	if !ok {
		n = client.NewTypingNotifier(s.client, chatId, client.DefaultTypingTimeout)
		s.typists[chatId] = n
	}
	return n
}

// say announces typing for the line being sent, then sends it. The server
// clears the indicator when the message arrives.
func (s *chatSession) say(chatId, line string) error {
	n := s.typist(chatId)
	if err := n.Keystroke(); err != nil {
		n.Reset()
		return err
	}

	err := s.client.SendMessage(chatId, line)
	n.Reset()
	return err
}

var errQuit = errors.New("quit")

func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := s.handleLine(line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(s.out, "! %v\n", err)
			}
		}
	}
}

func (s *chatSession) handleLine(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if !strings.HasPrefix(line, "/") {
		if s.active == "" {
			return fmt.Errorf("no active chat, use /join <id>")
		}
		return s.say(s.active, line)
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "quit", "q":
		return errQuit
	case "join":
		if arg == "" {
			return fmt.Errorf("usage: /join <id>")
		}
		return s.join(arg)
	case "leave":
		if arg == "" {
			arg = s.active
		}
		if arg == "" {
			return fmt.Errorf("usage: /leave <id>")
		}
		if n, ok := s.typists[arg]; ok {
			n.Stop()
			delete(s.typists, arg)
		}
		if err := s.client.Leave(arg); err != nil {
			return err
		}
		if s.active == arg {
			s.active = ""
			if rooms := s.client.Rooms(); len(rooms) > 0 {
				s.active = rooms[0]
			}
		}
		return nil
	case "switch":
		for _, r := range s.client.Rooms() {
			if r == arg {
				s.active = arg
				fmt.Fprintf(s.out, "* active chat %s\n", arg)
				return nil
			}
		}
		return fmt.Errorf("not in chat %q", arg)
	case "status":
		switch arg {
		case "online":
			return s.client.SetStatus(true)
		case "away", "offline":
			return s.client.SetStatus(false)
		}
		return fmt.Errorf("usage: /status online|away")
	}

	return fmt.Errorf("unknown command /%s", name)
}

func (s *chatSession) join(chatId string) error {
	if err := s.client.Join(chatId); err != nil {
		return fmt.Errorf("join %s: %w", chatId, err)
	}
	s.active = chatId
	fmt.Fprintf(s.out, "* joined %s\n", chatId)
	return nil
}

// renderEvent formats a server event for the terminal. Events with nothing
// worth showing render as an empty string.
func renderEvent(ev client.Event) string {
	switch ev.Event {
	case server.EventWelcome:
		var w server.Welcome
		if json.Unmarshal(ev.Data, &w) != nil {
			return ""
		}
		return fmt.Sprintf("* %s as %s", w.Message, w.UserId)
	case server.EventMessageReceived:
		var m server.MessageReceived
		if json.Unmarshal(ev.Data, &m) != nil {
			return ""
		}
		return formatMessage(message{
			ChatId:    m.Message.ChatId,
			SenderId:  m.Message.SenderId,
			Content:   m.Message.Content,
			Timestamp: m.Message.Timestamp,
		})
	case server.EventUserOnline, server.EventUserOffline:
		var p server.PresenceChange
		if json.Unmarshal(ev.Data, &p) != nil {
			return ""
		}
		state := "offline"
		if p.IsOnline {
			state = "online"
		}
		if p.ChatId != "" {
			return fmt.Sprintf("* %s is %s in %s", p.UserId, state, p.ChatId)
		}
		return fmt.Sprintf("* %s is %s", p.UserId, state)
	case server.EventTypingStart:
		var tc server.TypingChange
		if json.Unmarshal(ev.Data, &tc) != nil {
			return ""
		}
		return fmt.Sprintf("* %s is typing in %s", tc.UserId, tc.ChatId)
	case server.EventError:
		var e server.ErrorPayload
		if json.Unmarshal(ev.Data, &e) != nil {
			return ""
		}
		return fmt.Sprintf("! %s: %s", e.Code, e.Message)
	}

	return ""
}
