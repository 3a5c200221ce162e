package registry

import "time"

// Socket is the surface the registry needs from a websocket connection.
// *websocket.Conn satisfies it; tests substitute fakes. The registry is
// the sole owner of sockets; no other component reads or writes one
// directly.
type Socket interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}
