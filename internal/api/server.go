package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"coedit/internal/room"
	"coedit/pkg/interfaces"
	"coedit/pkg/types"
)

// Server is the HTTP surface: room management endpoints, a health
// check, and the WebSocket mount point. No business logic lives here,
// only HTTP handling and JSON serialization.
type Server struct {
	registry        *room.Registry
	store           interfaces.RoomStore
	bridge          interfaces.Bridge
	defaultLanguage string
	router          *mux.Router
}

// NewServer builds the router. wsHandler is mounted at /ws/{roomId}
// outside the JSON middleware so the upgrade path stays untouched.
func NewServer(registry *room.Registry, store interfaces.RoomStore, bridge interfaces.Bridge, defaultLanguage string, wsHandler http.HandlerFunc) *Server {
	s := &Server{
		registry:        registry,
		store:           store,
		bridge:          bridge,
		defaultLanguage: defaultLanguage,
		router:          mux.NewRouter(),
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.corsMiddleware, s.jsonMiddleware)
	api.HandleFunc("/rooms", s.createRoom).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/rooms", s.listRooms).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{roomId}", s.getRoom).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/rooms/{roomId}", s.deleteRoom).Methods(http.MethodDelete)

	health := s.router.PathPrefix("/health").Subrouter()
	health.Use(s.corsMiddleware, s.jsonMiddleware)
	health.HandleFunc("", s.healthCheck).Methods(http.MethodGet, http.MethodOptions)

	if wsHandler != nil {
		s.router.HandleFunc("/ws/{roomId}", wsHandler)
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type createRoomRequest struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
}

type deleteRoomResponse struct {
	Status string `json:"status"`
	RoomID string `json:"roomId"`
}

type listRoomsResponse struct {
	Rooms []types.RoomSummary `json:"rooms"`
}

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp float64        `json:"timestamp"`
	Rooms     map[string]int `json:"rooms"`
	Storage   string         `json:"storage"`
	Bridge    string         `json:"bridge"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// createRoom handles POST /api/rooms. The body is optional; an absent
// or empty body creates a room with the default language.
func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	language := req.Language
	if language == "" {
		language = s.defaultLanguage
	}
	if !types.IsValidLanguage(language) {
		s.sendError(w, "Invalid language", http.StatusBadRequest)
		return
	}

	// A client-chosen id resolves to the existing room when one exists;
	// without one the server mints a fresh id.
	if req.RoomID != "" {
		if !types.IsValidRoomID(req.RoomID) {
			s.sendError(w, "Invalid room id", http.StatusBadRequest)
			return
		}
		rm, created, err := s.registry.GetOrCreate(r.Context(), req.RoomID, language)
		if err != nil {
			log.Printf("creating room %s failed: %v", req.RoomID, err)
			s.sendError(w, "Failed to create room", http.StatusInternalServerError)
			return
		}
		if created {
			w.WriteHeader(http.StatusCreated)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(rm.Summary())
		return
	}

	rm, err := s.registry.Create(r.Context(), language)
	if err != nil {
		log.Printf("creating room failed: %v", err)
		s.sendError(w, "Failed to create room", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rm.Summary())
}

// listRooms handles GET /api/rooms.
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.registry.List()
	summaries := make([]types.RoomSummary, 0, len(rooms))
	for _, rm := range rooms {
		summaries = append(summaries, rm.Summary())
	}
	json.NewEncoder(w).Encode(listRoomsResponse{Rooms: summaries})
}

// getRoom handles GET /api/rooms/{roomId}.
func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	rm, err := s.registry.Get(roomID)
	if err != nil {
		s.sendError(w, "Room not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(rm.Snapshot())
}

// deleteRoom handles DELETE /api/rooms/{roomId}. Connected sessions are
// closed as part of the destroy.
func (s *Server) deleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	if err := s.registry.Delete(r.Context(), roomID); err != nil {
		s.sendError(w, "Room not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(deleteRoomResponse{Status: "deleted", RoomID: roomID})
}

// healthCheck handles GET /health. A storage failure makes the service
// unhealthy; a bridge failure only degrades it, since single-instance
// operation stays correct without the relay.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	storageStatus := "healthy"
	bridgeStatus := "healthy"

	if s.store == nil {
		storageStatus = "disabled"
	} else if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		storageStatus = fmt.Sprintf("error: %v", err)
	}

	if err := s.bridge.HealthCheck(ctx); err != nil {
		if status == "healthy" {
			status = "degraded"
		}
		bridgeStatus = fmt.Sprintf("error: %v", err)
	}

	response := healthResponse{
		Status:    status,
		Timestamp: types.NowUnix(),
		Rooms:     s.registry.Stats(),
		Storage:   storageStatus,
		Bridge:    bridgeStatus,
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
