package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"coedit/internal/config"
	"coedit/internal/room"
	"coedit/pkg/types"
)

// maxMalformedFrames is how many undecodable frames a session may send
// before it is disconnected.
const maxMalformedFrames = 5

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browsers connect from arbitrary origins; the room id is the
		// only admission credential.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades editing sessions and runs their frame loop against
// the room registry. All outbound fan-out, including relaying to other
// processes, is the room's job; the handler only feeds it inbound
// frames.
type Handler struct {
	registry *room.Registry
	cfg      *config.WebSocketConfig
}

// NewHandler creates a WebSocket handler bound to the registry.
func NewHandler(registry *room.Registry, cfg *config.WebSocketConfig) *Handler {
	return &Handler{
		registry: registry,
		cfg:      cfg,
	}
}

// HandleWebSocket admits a session into a room. Parameter validation
// happens before the upgrade so bad requests get HTTP errors; a missing
// room is reported after the upgrade with close code 4004 so browser
// clients can distinguish it from transport failures.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	if !types.IsValidRoomID(roomID) {
		http.Error(w, "Invalid room id", http.StatusBadRequest)
		return
	}

	username := r.URL.Query().Get("username")
	if username == "" {
		username = "Anonymous"
	}
	if !types.IsValidUsername(username) {
		http.Error(w, "Invalid username", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	rm, err := h.registry.Get(roomID)
	if err != nil {
		closeMsg := websocket.FormatCloseMessage(types.CloseRoomNotFound, "room not found")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(h.cfg.WriteTimeout))
		_ = conn.Close()
		return
	}

	conn.SetReadLimit(h.cfg.MaxMessageSize)
	wsConn := NewConnection(conn, h.cfg.SendBuffer, h.cfg.WriteTimeout)

	// Join queues the init snapshot and the user_joined announcement.
	user, _, err := rm.Join(wsConn, username)
	if err != nil {
		log.Printf("join failed for room %s: %v", roomID, err)
		_ = wsConn.Close()
		return
	}
	wsConn.SetIdentity(user.UserID, roomID)

	go h.handleSession(wsConn, rm, user.UserID)
}

// handleSession runs the read loop for one admitted session. Exit for
// any reason removes the user from the room and announces the
// departure.
func (h *Handler) handleSession(conn *Connection, rm *room.Room, userID string) {
	defer func() {
		rm.Leave(userID)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		log.Printf("failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	malformed := 0
	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("session %s read error: %v", userID, err)
			}
			return
		}
		if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame types.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			malformed++
			log.Printf("session %s sent malformed frame (%d/%d): %v", userID, malformed, maxMalformedFrames, err)
			if malformed >= maxMalformedFrames {
				return
			}
			continue
		}

		if !h.dispatch(conn, rm, userID, frame) {
			malformed++
			if malformed >= maxMalformedFrames {
				return
			}
		}
	}
}

// dispatch handles one decoded frame. It returns false when the frame
// was structurally invalid, which counts toward the malformed limit.
func (h *Handler) dispatch(conn *Connection, rm *room.Room, userID string, frame types.ClientFrame) bool {
	switch frame.Type {
	case types.FrameOperation:
		if frame.Operation == nil {
			return false
		}
		if err := frame.Operation.Validate(); err != nil {
			h.reject(rm, userID, err)
			return true
		}
		if _, err := rm.Commit(userID, *frame.Operation); err != nil {
			// A rejected operation never mutates the document; the
			// originating session gets an error frame plus a fresh
			// snapshot to resynchronize.
			h.reject(rm, userID, err)
		}
		return true

	case types.FrameCursor:
		if _, err := rm.UpdateCursor(userID, frame.Position, frame.SelectionStart, frame.SelectionEnd); err != nil {
			return false
		}
		return true

	case types.FramePing:
		rm.Touch(userID)
		if err := conn.WriteJSON(types.PongFrame{Type: types.FramePong}); err != nil {
			log.Printf("pong to session %s failed: %v", userID, err)
		}
		return true

	default:
		return false
	}
}

func (h *Handler) reject(rm *room.Room, userID string, cause error) {
	log.Printf("rejected operation from session %s in room %s: %v", userID, rm.ID(), cause)
	if err := rm.Resync(userID, cause.Error()); err != nil {
		log.Printf("resync for session %s failed: %v", userID, err)
	}
}
