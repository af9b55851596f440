package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"messaging-core/auth"
	"messaging-core/domain"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables. Without a token, one
// is minted from JWT_SECRET for USER_ID, which only suits local development.
type Config struct {
	ServerURL      string `env:"MESSAGING_WS_URL,default=ws://localhost:8080/ws"`
	Token          string `env:"MESSAGING_TOKEN"`
	JWTSecret      string `env:"JWT_SECRET"`
	UserID         string `env:"USER_ID"`
	ConversationID string `env:"CONVERSATION_ID"`
	RecipientID    string `env:"RECIPIENT_ID"`
	LogLevel       string `env:"LOG_LEVEL,default=INFO"`
	Colours        bool   `env:"CLIENT_COLOURS,default=true"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run opens one WebSocket session, prints every server frame and turns stdin
// lines into frames:
//
//	/join [lastSeq]   join CONVERSATION_ID
//	/leave            leave it
//	/typing           typing:start
//	/read <messageId> read:mark, or the whole conversation without id
//	anything else     message:send
func run() (int, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	token := config.Token
	if token == "" {
		if config.JWTSecret == "" || config.UserID == "" {
			return exitConfig, fmt.Errorf("MESSAGING_TOKEN or JWT_SECRET with USER_ID is required")
		}
		var err error
		token, err = auth.NewTokens(config.JWTSecret).Generate(config.UserID, config.UserID, nil, time.Hour)
		if err != nil {
			return exitConfig, err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, config.ServerURL, header)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to %s: %w", config.ServerURL, err)
	}
	defer func() {
		log.Info("Closing connection...")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	p := printer{colours: config.Colours}
	readErr := make(chan error, 1)
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			p.frame(raw)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return exitOK, nil
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return exitOK, nil
			}
			return exitRuntime, fmt.Errorf("connection lost: %w", err)
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			frame, ok := parseLine(config, strings.TrimSpace(line))
			if !ok {
				continue
			}
			if err := conn.WriteJSON(frame); err != nil {
				return exitRuntime, fmt.Errorf("write failed: %w", err)
			}
		}
	}
}

func parseLine(config Config, line string) (domain.Frame, bool) {
	if line == "" {
		return domain.Frame{}, false
	}
	command, arg, _ := strings.Cut(line, " ")
	switch command {
	case "/join":
		var lastSeq uint64
		_, _ = fmt.Sscan(arg, &lastSeq)
		return domain.Frame{Type: domain.EventJoin, Payload: domain.JoinPayload{ConversationID: config.ConversationID, LastSeq: lastSeq}}, true
	case "/leave":
		return domain.Frame{Type: domain.EventLeave, Payload: domain.LeavePayload{ConversationID: config.ConversationID}}, true
	case "/typing":
		return domain.Frame{Type: domain.EventTypingStart, Payload: domain.TypingPayload{ConversationID: config.ConversationID}}, true
	case "/read":
		return domain.Frame{Type: domain.EventMarkRead, Payload: domain.MarkReadPayload{
			MessageID:        strings.TrimSpace(arg),
			ConversationID:   config.ConversationID,
			MarkConversation: strings.TrimSpace(arg) == "",
		}}, true
	default:
		return domain.Frame{Type: domain.EventSendMessage, Payload: domain.SendMessagePayload{
			ConversationID: config.ConversationID,
			RecipientID:    config.RecipientID,
			Content:        line,
		}}, true
	}
}

type printer struct {
	colours bool
}

func (p printer) frame(raw []byte) {
	var envelope struct {
		Type    domain.EventType `json:"type"`
		Payload json.RawMessage  `json:"payload"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		fmt.Println(string(raw))
		return
	}
	label := fmt.Sprintf("[%s]", envelope.Type)
	if p.colours {
		label = labelStyle(envelope.Type).Render(label)
	}
	fmt.Println(label, string(envelope.Payload))
}

func labelStyle(t domain.EventType) color.Style {
	switch t {
	case domain.EventError:
		return color.New(color.FgRed, color.OpBold)
	case domain.EventMessageNew, domain.EventNotification:
		return color.New(color.FgGreen)
	case domain.EventMessageAck, domain.EventReadUpdate:
		return color.New(color.FgCyan)
	case domain.EventTypingStart, domain.EventTypingStop:
		return color.New(color.FgGray)
	default:
		return color.New(color.FgYellow)
	}
}
