package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/becomeliminal/nim-recall/core"
)

// Websocket request types.
const (
	TypeSearchDocuments  = "search_documents"
	TypeRetrieveMemories = "retrieve_relevant_memories"
	TypeHandleMessage    = "handle_message"
	TypeBuildContext     = "build_context"
	TypePing             = "ping"
)

// Websocket response types.
const (
	TypeResult  = "result"
	TypeError   = "error"
	TypePong    = "pong"
	TypeSession = "session"
)

const (
	wsReadLimit  = 512 * 1024
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsWriteWait  = 10 * time.Second
)

// Envelope is one websocket frame in either direction. Responses carry
// the ID of the request they answer.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Data    any             `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    int             `json:"code,omitempty"`
}

type wsSession struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // one writer at a time
}

func (ws *wsSession) send(env Envelope) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	_ = ws.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ws.conn.WriteJSON(env)
}

func (ws *wsSession) ping() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// handleWebsocket upgrades the connection and serves requests until the
// client disconnects. Requests on one connection are answered in order.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	ws := &wsSession{id: uuid.NewString(), conn: conn}
	s.logger.Info("Websocket connected", "session_id", ws.id, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		conn.Close()
		s.logger.Info("Websocket disconnected", "session_id", ws.id)
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ws.ping(); err != nil {
					return
				}
			}
		}
	}()

	if err := ws.send(Envelope{ID: ws.id, Type: TypeSession}); err != nil {
		return
	}

	for {
		var req Envelope
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("Websocket read failed", "session_id", ws.id, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		if err := ws.send(s.dispatch(ctx, req)); err != nil {
			return
		}
	}
}

// dispatch runs one websocket request.
func (s *Server) dispatch(ctx context.Context, req Envelope) Envelope {
	var (
		data any
		err  error
	)
	switch req.Type {
	case TypePing:
		return Envelope{ID: req.ID, Type: TypePong}
	case TypeSearchDocuments:
		var p SearchRequest
		if err = decodePayload(req.Payload, &p); err == nil {
			data, err = s.searchDocuments(ctx, p)
		}
	case TypeRetrieveMemories:
		var p RetrieveRequest
		if err = decodePayload(req.Payload, &p); err == nil {
			data, err = s.retrieveMemories(ctx, p)
		}
	case TypeHandleMessage:
		var p MessageRequest
		if err = decodePayload(req.Payload, &p); err == nil {
			data, err = s.handleMessage(ctx, p)
		}
	case TypeBuildContext:
		var p MessageRequest
		if err = decodePayload(req.Payload, &p); err == nil {
			data, err = s.buildContext(ctx, p)
		}
	default:
		err = fmt.Errorf("%w: unknown request type %q", core.ErrInvalidInput, req.Type)
	}

	if err != nil {
		_, code := statusFor(err)
		return Envelope{ID: req.ID, Type: TypeError, Error: err.Error(), Code: code}
	}
	return Envelope{ID: req.ID, Type: TypeResult, Data: data}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: payload is required", core.ErrInvalidInput)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", core.ErrInvalidInput, err)
	}
	return nil
}
