package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Perceptus-Labs/perceptus-agent/models"
	"github.com/Perceptus-Labs/perceptus-agent/utils"
)

type fakeVoice struct {
	transcripts chan string
	closed      chan struct{}
}

func (f *fakeVoice) Send(audio []byte) error {
	f.transcripts <- string(audio)
	f.transcripts <- utils.END_OF_SPEECH
	return nil
}

func (f *fakeVoice) Close() { close(f.closed) }

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialSession(t *testing.T, srv *SessionServer) *wsClient {
	t.Helper()
	server := httptest.NewServer(srv)
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &wsClient{t: t, conn: conn}
	c.expect("session_started")
	return c
}

func (c *wsClient) send(msgType, id string, data interface{}) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(WebSocketMessage{Type: msgType, ID: id, Data: raw, Timestamp: time.Now()}))
}

// expect reads until a message of msgType arrives and decodes its data.
func (c *wsClient) expect(msgType string) (string, json.RawMessage) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg WebSocketMessage
		require.NoError(c.t, c.conn.ReadJSON(&msg), "waiting for %s", msgType)
		if msg.Type == msgType {
			return msg.ID, msg.Data
		}
	}
}

func TestClientSession_RequestReply(t *testing.T) {
	h := newHarness(t).init(t)
	h.remote.analyzeResult = models.OptimizationResult{OptimizedScript: "better", Score: 90, IsSuccessful: true}
	c := dialSession(t, &SessionServer{Agent: h.svc, Logger: zaptest.NewLogger(t)})

	c.send("ping", "p1", nil)
	id, _ := c.expect("pong")
	assert.Equal(t, "p1", id)

	c.send("optimize", "o1", scriptRequest{Script: "click(1, 2)"})
	id, data := c.expect("optimize_result")
	assert.Equal(t, "o1", id)
	var res models.OptimizationResult
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, "better", res.OptimizedScript)
	assert.Equal(t, 90.0, res.Score)

	c.send("chat", "c1", chatRequest{Message: "hello", SessionID: "ui"})
	_, data = c.expect("chat_result")
	var reply models.ChatMessage
	require.NoError(t, json.Unmarshal(data, &reply))
	assert.Equal(t, "re: hello", reply.Content)
	assert.Len(t, h.svc.ChatHistory("ui"), 2)

	c.send("switch_model", "s1", switchModelRequest{ModelID: "gpt-4o", APIKey: "sk"})
	_, data = c.expect("switch_model_result")
	assert.JSONEq(t, `{"success":true}`, string(data))
}

func TestClientSession_ErrorsAndStop(t *testing.T) {
	h := newHarness(t).init(t)
	c := dialSession(t, &SessionServer{Agent: h.svc, Logger: zaptest.NewLogger(t)})

	c.send("teleport", "x1", nil)
	id, data := c.expect("error")
	assert.Equal(t, "x1", id)
	assert.Contains(t, string(data), "unknown message type")

	require.NoError(t, c.conn.WriteJSON(WebSocketMessage{Type: "chat", ID: "bad", Data: json.RawMessage(`"not an object"`)}))
	id, _ = c.expect("error")
	assert.Equal(t, "bad", id)

	c.send("audio_data", "a1", audioRequest{Payload: "AAAA"})
	_, data = c.expect("error")
	assert.Contains(t, string(data), "voice input is not enabled")

	c.send("stop", "", nil)
	_, data = c.expect("stop_confirmation")
	assert.Contains(t, string(data), "Session stopped successfully")
}

func TestClientSession_RealtimeSuggestionsAreForwarded(t *testing.T) {
	h := newHarness(t).init(t)
	c := dialSession(t, &SessionServer{Agent: h.svc, Logger: zaptest.NewLogger(t)})

	c.send("start_realtime", "r1", nil)
	c.expect("start_realtime_result")

	h.screen.emit(&models.ScreenContext{ID: "home"})
	_, data := c.expect("realtime_suggestion")
	var s models.ActionSuggestion
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, "tap", s.Action)

	c.send("stop", "", nil)
	c.expect("stop_confirmation")
	assert.Eventually(t, func() bool { return !h.svc.RealtimeActive() }, 2*time.Second, 10*time.Millisecond)
}

func TestClientSession_ChatHistoryEndsWithConnection(t *testing.T) {
	h := newHarness(t).init(t)
	c := dialSession(t, &SessionServer{Agent: h.svc, Logger: zaptest.NewLogger(t)})

	c.send("chat", "c1", chatRequest{Message: "hello"})
	c.expect("chat_result")
	c.send("chat", "c2", chatRequest{Message: "keep me", SessionID: "shared"})
	c.expect("chat_result")
	assert.Equal(t, 2, h.svc.sessions.Len())

	c.send("stop", "", nil)
	c.expect("stop_confirmation")
	assert.Eventually(t, func() bool { return h.svc.sessions.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, h.svc.ChatHistory("shared"), 2)
}

func TestClientSession_RealtimeIsSharedBetweenSessions(t *testing.T) {
	h := newHarness(t).init(t)
	srv := &SessionServer{Agent: h.svc, Logger: zaptest.NewLogger(t)}
	a := dialSession(t, srv)
	b := dialSession(t, srv)

	a.send("start_realtime", "ra", nil)
	a.expect("start_realtime_result")
	b.send("start_realtime", "rb", nil)
	b.expect("start_realtime_result")
	assert.Equal(t, 1, h.screen.subscribers())

	h.screen.emit(&models.ScreenContext{ID: "home"})
	a.expect("realtime_suggestion")
	b.expect("realtime_suggestion")

	b.send("stop_realtime", "sb", nil)
	b.expect("stop_realtime_result")
	assert.True(t, h.svc.RealtimeActive(), "a remaining subscriber keeps the stream running")

	h.screen.emit(&models.ScreenContext{ID: "settings"})
	_, data := a.expect("realtime_suggestion")
	var s models.ActionSuggestion
	require.NoError(t, json.Unmarshal(data, &s))
	require.NotNil(t, s.Context)
	assert.Equal(t, "settings", s.Context.ID)

	b.send("ping", "pb", nil)
	require.NoError(t, b.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg WebSocketMessage
		require.NoError(t, b.conn.ReadJSON(&msg))
		require.NotEqual(t, "realtime_suggestion", msg.Type, "unsubscribed session still receives suggestions")
		if msg.Type == "pong" {
			break
		}
	}

	a.send("stop", "", nil)
	a.expect("stop_confirmation")
	assert.Eventually(t, func() bool { return !h.svc.RealtimeActive() }, 2*time.Second, 10*time.Millisecond)
}

func TestClientSession_VoiceBecomesChat(t *testing.T) {
	h := newHarness(t).init(t)
	voice := &fakeVoice{closed: make(chan struct{})}
	factory := func(transcripts chan string) (VoiceStream, error) {
		voice.transcripts = transcripts
		return voice, nil
	}
	c := dialSession(t, &SessionServer{Agent: h.svc, Voice: factory, Logger: zaptest.NewLogger(t)})

	c.send("audio_data", "", audioRequest{Payload: base64.StdEncoding.EncodeToString([]byte("open settings"))})

	_, data := c.expect("transcript_final")
	assert.JSONEq(t, `{"transcript":"open settings"}`, string(data))
	_, data = c.expect("chat_result")
	var reply models.ChatMessage
	require.NoError(t, json.Unmarshal(data, &reply))
	assert.Equal(t, "re: open settings", reply.Content)

	c.send("stop", "", nil)
	c.expect("stop_confirmation")
	select {
	case <-voice.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("voice stream was not closed")
	}
}
