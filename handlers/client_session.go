package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Perceptus-Labs/perceptus-agent/metrics"
	"github.com/Perceptus-Labs/perceptus-agent/models"
)

const defaultHeartbeat = 30 * time.Second

// Agent is the operation set a UI client session drives. *AgentService
// implements it.
type Agent interface {
	OptimizeScript(ctx context.Context, script string) models.OptimizationResult
	GenerateScript(ctx context.Context, request string) models.ScriptGenerationResult
	ChatWithAgent(ctx context.Context, message, sessionID string) models.ChatMessage
	ChatHistory(sessionID string) []models.ChatMessage
	EndChatSession(sessionID string)
	GetScriptSuggestions(ctx context.Context, script string, exec *models.ExecutionResult) []models.Suggestion
	SwitchModel(ctx context.Context, modelID, apiKey string) bool
	UpdateConfig(ctx context.Context, cfg models.AgentConfig) error
	StartRealtimeAnalysis(callback func(models.ActionSuggestion)) error
	StopRealtimeAnalysis()
	PushScriptToGitHub(ctx context.Context, name, content string) bool
	PullScriptFromGitHub(ctx context.Context, path string) (string, bool)
	GetTemplates(ctx context.Context, category, query string) []models.ScriptTemplate
	SaveTemplate(ctx context.Context, t models.ScriptTemplate) bool
	RecordExecution(ctx context.Context, rec models.ScriptExecutionRecord) bool
	GetExecutionHistory(ctx context.Context, limit int) []models.ScriptExecutionRecord
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow connections from any origin
	},
}

// WebSocketMessage is the envelope for both directions. ID correlates a
// reply with its request.
type WebSocketMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	ID        string      `json:"id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type scriptRequest struct {
	Script    string                  `json:"script"`
	Execution *models.ExecutionResult `json:"execution,omitempty"`
}

type generateRequest struct {
	Request string `json:"request"`
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type switchModelRequest struct {
	ModelID string `json:"model_id"`
	APIKey  string `json:"api_key"`
}

type pushRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type pullRequest struct {
	Path string `json:"path"`
}

type historyRequest struct {
	Limit int `json:"limit"`
}

type templatesRequest struct {
	Category string `json:"category,omitempty"`
	Query    string `json:"query,omitempty"`
}

type audioRequest struct {
	Payload string `json:"payload"`
}

// SessionServer accepts UI websocket connections, one ClientSession each.
type SessionServer struct {
	Agent     Agent
	Voice     VoiceFactory
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Heartbeat time.Duration

	relay realtimeRelay
}

func (srv *SessionServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := srv.Logger
	if logger == nil {
		logger = zap.L()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade to websocket", zap.Error(err))
		return
	}

	session := NewClientSession(uuid.New().String(), conn, srv.Agent, logger)
	session.metrics = srv.Metrics
	session.relay = &srv.relay
	if srv.Heartbeat > 0 {
		session.heartbeat = srv.Heartbeat
	}
	if srv.Voice != nil {
		voice, err := InitVoiceHandler(session, srv.Voice)
		if err != nil {
			session.Logger.Warn("Voice input disabled", zap.Error(err))
		} else {
			session.voice = voice
		}
	}

	session.Run()
}

// ClientSession is one connected UI. Requests are handled concurrently;
// writes to the connection are serialized.
type ClientSession struct {
	ID     string
	Logger *zap.Logger

	conn    *websocket.Conn
	agent   Agent
	metrics *metrics.Metrics
	voice   *VoiceHandler
	relay   *realtimeRelay

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu   sync.Mutex
	stopOnce  sync.Once
	startTime time.Time
	heartbeat time.Duration
}

func NewClientSession(id string, conn *websocket.Conn, agent Agent, logger *zap.Logger) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &ClientSession{
		ID:        id,
		Logger:    logger.With(zap.String("session_id", id)),
		conn:      conn,
		agent:     agent,
		relay:     &realtimeRelay{},
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		heartbeat: defaultHeartbeat,
	}
}

// Run serves the connection until the client leaves or sends stop.
func (cs *ClientSession) Run() {
	cs.Logger.Info("New client session started")
	cs.metrics.SessionOpened()
	defer cs.metrics.SessionClosed()

	cs.wg.Add(1)
	go func() {
		defer cs.wg.Done()
		cs.heartbeatLoop()
	}()
	if cs.voice != nil {
		cs.wg.Add(1)
		go func() {
			defer cs.wg.Done()
			cs.voice.run(cs.ctx)
		}()
	}

	cs.sendMessage("session_started", "", map[string]interface{}{"session_id": cs.ID})
	cs.listenWebsocketMessages()
	cs.Stop()
	cs.wg.Wait()
	// Nothing writes to this connection's chat history past wg.Wait.
	cs.agent.EndChatSession(cs.ID)
	cs.Logger.Info("Client session ended")
}

// Stop cancels in-flight requests and closes the connection.
func (cs *ClientSession) Stop() {
	cs.stopOnce.Do(func() {
		cs.cancel()
		cs.relay.unsubscribe(cs.agent, cs.ID)
		if cs.voice != nil {
			cs.voice.Close()
		}
		cs.conn.Close()
	})
}

func (cs *ClientSession) listenWebsocketMessages() {
	for {
		var msg WebSocketMessage
		if err := cs.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				cs.Logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "ping":
			cs.sendMessage("pong", msg.ID, nil)
		case "stop":
			cs.Logger.Info("Received stop command from client")
			cs.sendMessage("stop_confirmation", msg.ID, map[string]interface{}{
				"session_id": cs.ID,
				"message":    "Session stopped successfully",
			})
			return
		case "audio_data":
			cs.handleAudioData(msg)
		default:
			cs.wg.Add(1)
			go func(msg WebSocketMessage) {
				defer cs.wg.Done()
				cs.dispatch(msg)
			}(msg)
		}
	}
}

func (cs *ClientSession) dispatch(msg WebSocketMessage) {
	ctx := cs.ctx
	reply := msg.Type + "_result"

	switch msg.Type {
	case "optimize":
		var req scriptRequest
		if cs.decode(msg, &req) {
			cs.sendMessage(reply, msg.ID, cs.agent.OptimizeScript(ctx, req.Script))
		}
	case "generate":
		var req generateRequest
		if cs.decode(msg, &req) {
			cs.sendMessage(reply, msg.ID, cs.agent.GenerateScript(ctx, req.Request))
		}
	case "chat":
		var req chatRequest
		if cs.decode(msg, &req) {
			cs.sendMessage(reply, msg.ID, cs.agent.ChatWithAgent(ctx, req.Message, cs.chatSession(req.SessionID)))
		}
	case "chat_history":
		var req chatRequest
		if cs.decode(msg, &req) {
			cs.sendMessage(reply, msg.ID, cs.agent.ChatHistory(cs.chatSession(req.SessionID)))
		}
	case "suggestions":
		var req scriptRequest
		if cs.decode(msg, &req) {
			cs.sendMessage(reply, msg.ID, cs.agent.GetScriptSuggestions(ctx, req.Script, req.Execution))
		}
	case "switch_model":
		var req switchModelRequest
		if cs.decode(msg, &req) {
			cs.sendMessage(reply, msg.ID, map[string]bool{"success": cs.agent.SwitchModel(ctx, req.ModelID, req.APIKey)})
		}
	case "update_config":
		var cfg models.AgentConfig
		if cs.decode(msg, &cfg) {
			if err := cs.agent.UpdateConfig(ctx, cfg); err != nil {
				cs.sendError(msg.ID, err)
				return
			}
			cs.sendMessage(reply, msg.ID, map[string]bool{"success": true})
		}
	case "start_realtime":
		if err := cs.relay.subscribe(cs.agent, cs.ID, func(s models.ActionSuggestion) {
			cs.sendMessage("realtime_suggestion", "", s)
		}); err != nil {
			cs.sendError(msg.ID, err)
			return
		}
		cs.sendMessage(reply, msg.ID, map[string]bool{"active": true})
	case "stop_realtime":
		cs.relay.unsubscribe(cs.agent, cs.ID)
		cs.sendMessage(reply, msg.ID, map[string]bool{"active": false})
	case "push_script":
		var req pushRequest
		if cs.decode(msg, &req) {
			cs.sendMessage(reply, msg.ID, map[string]bool{"success": cs.agent.PushScriptToGitHub(ctx, req.Name, req.Content)})
		}
	case "pull_script":
		var req pullRequest
		if cs.decode(msg, &req) {
			content, ok := cs.agent.PullScriptFromGitHub(ctx, req.Path)
			cs.sendMessage(reply, msg.ID, map[string]interface{}{"success": ok, "content": content})
		}
	case "templates":
		var req templatesRequest
		if cs.decode(msg, &req) {
			cs.sendMessage(reply, msg.ID, cs.agent.GetTemplates(ctx, req.Category, req.Query))
		}
	case "save_template":
		var t models.ScriptTemplate
		if cs.decode(msg, &t) {
			cs.sendMessage(reply, msg.ID, map[string]bool{"success": cs.agent.SaveTemplate(ctx, t)})
		}
	case "record_execution":
		var rec models.ScriptExecutionRecord
		if cs.decode(msg, &rec) {
			cs.sendMessage(reply, msg.ID, map[string]bool{"success": cs.agent.RecordExecution(ctx, rec)})
		}
	case "execution_history":
		var req historyRequest
		if cs.decode(msg, &req) {
			cs.sendMessage(reply, msg.ID, cs.agent.GetExecutionHistory(ctx, req.Limit))
		}
	default:
		cs.Logger.Warn("Unknown message type", zap.String("type", msg.Type))
		cs.sendError(msg.ID, fmt.Errorf("unknown message type %q", msg.Type))
	}
}

// chatSession defaults chats to this connection's own history.
func (cs *ClientSession) chatSession(requested string) string {
	if requested != "" {
		return requested
	}
	return cs.ID
}

func (cs *ClientSession) decode(msg WebSocketMessage, v interface{}) bool {
	if len(msg.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		cs.Logger.Error("Invalid message payload", zap.String("type", msg.Type), zap.Error(err))
		cs.sendError(msg.ID, fmt.Errorf("invalid %s payload: %w", msg.Type, err))
		return false
	}
	return true
}

func (cs *ClientSession) handleAudioData(msg WebSocketMessage) {
	if cs.voice == nil {
		cs.sendError(msg.ID, fmt.Errorf("voice input is not enabled"))
		return
	}
	var req audioRequest
	if !cs.decode(msg, &req) {
		return
	}
	if err := cs.voice.ProcessAudioData(req.Payload); err != nil {
		cs.Logger.Error("Failed to process audio data", zap.Error(err))
	}
}

func (cs *ClientSession) heartbeatLoop() {
	ticker := time.NewTicker(cs.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			cs.Logger.Debug("Session heartbeat")
			cs.sendMessage("heartbeat", "", map[string]interface{}{
				"session_id": cs.ID,
				"uptime":     time.Since(cs.startTime).String(),
			})
		}
	}
}

func (cs *ClientSession) sendError(id string, err error) {
	cs.sendMessage("error", id, map[string]string{"message": err.Error()})
}

func (cs *ClientSession) sendMessage(msgType, id string, data interface{}) {
	msg := outgoingMessage{
		Type:      msgType,
		ID:        id,
		Data:      data,
		Timestamp: time.Now(),
	}

	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()
	if err := cs.conn.WriteJSON(msg); err != nil {
		if cs.ctx.Err() == nil {
			cs.Logger.Error("Failed to send websocket message", zap.Error(err), zap.String("type", msgType))
		}
	}
}
