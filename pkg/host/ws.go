package host

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	imageassistant "github.com/menta2k/image-assistant"
	"github.com/menta2k/image-assistant/pkg/types"
)

// PointerMessage is a crop websocket payload. W and H carry the current
// rendered size of the image, which bounds the crop box.
type PointerMessage struct {
	T string  `json:"t"`
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`
	W float64 `json:"w,omitempty"`
	H float64 `json:"h,omitempty"`
}

// PointerReply answers every pointer message with the box or an error
type PointerReply struct {
	Box   *types.CropBox `json:"box,omitempty"`
	Error string         `json:"error,omitempty"`
}

// PointerServer streams pointer events from the page into the crop session.
type PointerServer struct {
	mu        sync.Mutex
	upgrader  websocket.Upgrader
	assistant *imageassistant.Assistant
	conn      *websocket.Conn
}

// NewPointerServer creates a pointer websocket server.
func NewPointerServer(a *imageassistant.Assistant) *PointerServer {
	return &PointerServer{
		assistant: a,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and processes pointer messages.
func (s *PointerServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if err := s.acceptConn(conn); err != nil {
		_ = conn.WriteJSON(PointerReply{Error: err.Error()})
		_ = conn.Close()
		return
	}
	defer s.cleanupConn(conn)

	for {
		var msg PointerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		reply, ok := s.handleMessage(msg)
		if !ok {
			continue
		}
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

// acceptConn ensures only one active pointer stream exists.
func (s *PointerServer) acceptConn(conn *websocket.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return fmt.Errorf("pointer connection already active")
	}
	s.conn = conn
	return nil
}

// cleanupConn clears the active connection when closed. A drag left open by
// a dropped connection is cancelled.
func (s *PointerServer) cleanupConn(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_, _ = s.assistant.Pointer(types.PointerEvent{Kind: types.PointerCancel}, types.Dimensions{})
	_ = conn.Close()
}

// handleMessage dispatches a single pointer message. Unknown types get no reply.
func (s *PointerServer) handleMessage(msg PointerMessage) (PointerReply, bool) {
	container := types.Dimensions{Width: msg.W, Height: msg.H}
	var (
		box types.CropBox
		err error
	)
	switch msg.T {
	case "down", "move", "up", "cancel":
		ev := types.PointerEvent{Kind: types.PointerKind(msg.T), X: msg.X, Y: msg.Y}
		box, err = s.assistant.Pointer(ev, container)
	case "resize":
		box, err = s.assistant.ResizeContainer(container)
	default:
		return PointerReply{}, false
	}
	if err != nil {
		return PointerReply{Error: err.Error()}, true
	}
	return PointerReply{Box: &box}, true
}
