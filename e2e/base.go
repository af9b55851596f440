package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"messaging-core/auth"
	"messaging-core/domain"
	"net/http"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const frameTimeout = 5 * time.Second

type BaseSuite struct {
	suite.Suite
	Config Config
	tokens *auth.Tokens
}

// SetupSuite loads the environment configuration and skips when no server is configured
func (s *BaseSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.HTTPURL == "" || s.Config.JWTSecret == "" {
		s.T().Skip("E2E_HTTP_URL and E2E_JWT_SECRET are required for end to end suites")
	}
	s.tokens = auth.NewTokens(s.Config.JWTSecret)
}

// Step prints a colorized header for a scenario step
func (s *BaseSuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

func (s *BaseSuite) Token(userID string) string {
	token, err := s.tokens.Generate(userID, "E2E "+userID, nil, time.Hour)
	s.Require().NoError(err)
	return token
}

// Do sends a JSON request as userID and decodes the response into out when given
func (s *BaseSuite) Do(userID, method, path string, body, out any) int {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, strings.TrimSuffix(s.Config.HTTPURL, "/")+path, reader)
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+s.Token(userID))
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)

	s.T().Logf("HTTP %s %s [%d] in %v", method, path, resp.StatusCode, time.Since(start))
	if s.Config.DebugJSON {
		s.T().Logf("RESPONSE: %s", raw)
	}
	if out != nil && len(raw) > 0 {
		s.Require().NoError(json.Unmarshal(raw, out))
	}
	return resp.StatusCode
}

// Dial opens a WebSocket session as userID and waits for connection:ready
func (s *BaseSuite) Dial(userID string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(strings.TrimSuffix(s.Config.HTTPURL, "/"), "http") + "/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.Token(userID))
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	s.Require().NoError(err, "Failed to open a WebSocket at "+url)
	s.Expect(conn, domain.EventConnectionReady, nil)
	return conn
}

func (s *BaseSuite) Send(conn *websocket.Conn, t domain.EventType, payload any) {
	s.Require().NoError(conn.WriteJSON(domain.Frame{Type: t, Payload: payload}))
}

// Expect skips frames of other types until one of type t arrives, decoding its payload into out
func (s *BaseSuite) Expect(conn *websocket.Conn, t domain.EventType, out any) {
	deadline := time.Now().Add(frameTimeout)
	s.Require().NoError(conn.SetReadDeadline(deadline))
	for {
		var frame struct {
			Type    domain.EventType `json:"type"`
			Payload json.RawMessage  `json:"payload"`
		}
		s.Require().NoError(conn.ReadJSON(&frame), "waiting for %s", t)
		if s.Config.DebugJSON {
			s.T().Logf("FRAME %s: %s", frame.Type, frame.Payload)
		}
		if frame.Type != t {
			continue
		}
		if out != nil {
			s.Require().NoError(json.Unmarshal(frame.Payload, out))
		}
		return
	}
}

// WithHealth provides a gRPC health client within a contextual test step
func (s *BaseSuite) WithHealth(name string, fn func(ctx context.Context, client grpc_health_v1.HealthClient)) {
	s.Step(name)
	conn, err := grpc.NewClient(s.Config.HealthAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	s.Require().NoError(err, "Failed to connect to gRPC server at "+s.Config.HealthAddr)
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fn(ctx, grpc_health_v1.NewHealthClient(conn))
}
