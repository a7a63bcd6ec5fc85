package control

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The endpoint only binds to loopback; the host process on the
		// same machine is the sole intended client.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// wsTransport runs control lines over a websocket, one line per text
// message.
type wsTransport struct {
	conn *websocket.Conn
}

// NewWebSocketTransport wraps an established websocket connection.
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadLine() ([]byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (t *wsTransport) WriteLine(line []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, line)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// WebSocketServer accepts one host connection at a time and hands each
// a fresh channel wired through configure.
type WebSocketServer struct {
	address   string
	configure func(*Channel)
	log       *zap.SugaredLogger
	server    *http.Server
}

func NewWebSocketServer(address string, configure func(*Channel), log *zap.SugaredLogger) *WebSocketServer {
	return &WebSocketServer{address: address, configure: configure, log: log}
}

// ListenAndServe blocks serving control connections until Shutdown.
func (s *WebSocketServer) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/control", s.handle)
	s.server = &http.Server{Addr: s.address, Handler: mux}
	s.log.Infow("control websocket listening", "address", s.address)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *WebSocketServer) Shutdown() {
	if s.server != nil {
		s.server.Close()
	}
}

func (s *WebSocketServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("control upgrade failed", "error", err)
		return
	}
	s.log.Infow("host connected", "remote", conn.RemoteAddr().String())
	ch := NewChannel(NewWebSocketTransport(conn), s.log)
	s.configure(ch)
	ch.Start()
}
