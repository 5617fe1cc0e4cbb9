package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/roomcast/roomcast-server/internal/auth"
	"github.com/roomcast/roomcast-server/internal/config"
	"github.com/roomcast/roomcast-server/internal/core"
	"github.com/roomcast/roomcast-server/internal/proto"
	"github.com/roomcast/roomcast-server/internal/store/sqlite"
)

type testOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := zerolog.Nop()
	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "roomcast-test",
		Audience: "roomcast-clients",
		TTL:      time.Hour,
	})
	hub := core.NewHub(st, &logger, core.HubConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := NewServer(hub, authService, config.Default(), &logger)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func registerIdentity(t *testing.T, ts *httptest.Server, username string) string {
	t.Helper()

	body, _ := json.Marshal(RegisterRequest{Username: username, Password: "secret123"})
	resp, err := stdhttp.Post(ts.URL+"/api/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register %q: %v", username, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusCreated {
		t.Fatalf("register %q: status %d", username, resp.StatusCode)
	}

	var auth AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return auth.Token
}

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func sendInbound(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s data: %v", msgType, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: msgType, Data: raw}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// readEvent reads outbound frames until one carries the wanted event name,
// skipping interleaved presence and membership notifications.
func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()

	for range 20 {
		var out testOutbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("read ws frame: %v", err)
		}
		if out.Type == proto.OutboundTypeError {
			t.Fatalf("unexpected error frame: %+v", out.Error)
		}
		if out.Event == event {
			return out.Data
		}
	}
	t.Fatalf("event %q never arrived", event)
	return nil
}

func TestWSRejectsMissingOrInvalidToken(t *testing.T) {
	ts := startTestServer(t)

	resp, err := stdhttp.Get(ts.URL + "/ws")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	resp, err = stdhttp.Get(ts.URL + "/ws?token=garbage")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestWSJoinAndMessageFlow(t *testing.T) {
	ts := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	aliceToken := registerIdentity(t, ts, "alice")
	bobToken := registerIdentity(t, ts, "bob")

	alice := dialWS(t, ctx, ts, aliceToken)
	bob := dialWS(t, ctx, ts, bobToken)

	sendInbound(t, ctx, alice, proto.InboundTypeJoin, proto.JoinData{
		Conversation: proto.ConversationRef{Kind: "public", Name: "general"},
	})

	var aliceJoined proto.EventJoined
	if err := json.Unmarshal(readEvent(t, ctx, alice, proto.EventNameJoined), &aliceJoined); err != nil {
		t.Fatalf("decode joined: %v", err)
	}
	if !aliceJoined.WasCreated {
		t.Fatal("first join must create the conversation")
	}
	convID := aliceJoined.Conversation.ID

	sendInbound(t, ctx, bob, proto.InboundTypeJoin, proto.JoinData{
		Conversation: proto.ConversationRef{Kind: "public", Name: "general"},
	})

	var bobJoined proto.EventJoined
	if err := json.Unmarshal(readEvent(t, ctx, bob, proto.EventNameJoined), &bobJoined); err != nil {
		t.Fatalf("decode joined: %v", err)
	}
	if bobJoined.WasCreated {
		t.Fatal("second join must not create the conversation")
	}
	if bobJoined.Conversation.ID != convID {
		t.Fatalf("conversation IDs differ: %d vs %d", bobJoined.Conversation.ID, convID)
	}
	if len(bobJoined.Members) != 2 {
		t.Fatalf("members = %d, want 2", len(bobJoined.Members))
	}

	sendInbound(t, ctx, alice, proto.InboundTypeMsg, proto.MsgData{
		Conversation: proto.ConversationRef{Kind: "public", ID: convID},
		Text:         "hello room",
	})

	var got proto.EventMessage
	if err := json.Unmarshal(readEvent(t, ctx, bob, proto.EventNameMessage), &got); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if got.Text != "hello room" {
		t.Fatalf("text = %q, want %q", got.Text, "hello room")
	}
	if got.Sender.Name != "alice" {
		t.Fatalf("sender = %q, want %q", got.Sender.Name, "alice")
	}
}

func TestWSDirectConversationFlow(t *testing.T) {
	ts := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	aliceToken := registerIdentity(t, ts, "alice")
	bobToken := registerIdentity(t, ts, "bob")

	alice := dialWS(t, ctx, ts, aliceToken)
	bob := dialWS(t, ctx, ts, bobToken)

	// Bob's identity ID is discoverable through a shared room join; here the
	// schema assigns IDs sequentially, so bob is identity 2.
	sendInbound(t, ctx, alice, proto.InboundTypeDirect, proto.DirectData{TargetIdentityID: 2})

	var aliceJoined proto.EventJoined
	if err := json.Unmarshal(readEvent(t, ctx, alice, proto.EventNameJoined), &aliceJoined); err != nil {
		t.Fatalf("decode joined: %v", err)
	}
	if aliceJoined.Conversation.Kind != "direct" {
		t.Fatalf("kind = %q, want direct", aliceJoined.Conversation.Kind)
	}
	convID := aliceJoined.Conversation.ID

	sendInbound(t, ctx, bob, proto.InboundTypeJoin, proto.JoinData{
		Conversation: proto.ConversationRef{Kind: "direct", ID: convID},
	})
	readEvent(t, ctx, bob, proto.EventNameJoined)

	sendInbound(t, ctx, alice, proto.InboundTypeMsg, proto.MsgData{
		Conversation: proto.ConversationRef{Kind: "direct", ID: convID},
		Text:         "psst",
	})

	var summary proto.EventDirectSummary
	if err := json.Unmarshal(readEvent(t, ctx, bob, proto.EventNameDirectSummary), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if !summary.Unread {
		t.Fatal("recipient summary must be unread")
	}
	if summary.Other.Name != "alice" {
		t.Fatalf("counterpart = %q, want %q", summary.Other.Name, "alice")
	}
}

func TestWSErrorFrameForBadSend(t *testing.T) {
	ts := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token := registerIdentity(t, ts, "alice")
	conn := dialWS(t, ctx, ts, token)

	// Sending without any attachment yields an error frame.
	sendInbound(t, ctx, conn, proto.InboundTypeMsg, proto.MsgData{
		Conversation: proto.ConversationRef{Kind: "public", ID: 42},
		Text:         "hello",
	})

	var out testOutbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read ws frame: %v", err)
	}
	if out.Type != proto.OutboundTypeError || out.Error == nil {
		t.Fatalf("expected error frame, got %+v", out)
	}
	if out.Error.Code != core.ErrCodeInvalidRequest {
		t.Fatalf("error code = %q, want %q", out.Error.Code, core.ErrCodeInvalidRequest)
	}
}
