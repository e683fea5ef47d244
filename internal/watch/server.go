package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"t3/pkg/markdown"
)

const (
	writeWait      = 10 * time.Second
	clientBuffer   = 256
	readLimitBytes = 512
)

// Info describes the run shown on the index page.
type Info struct {
	Command []string
	LogFile string
}

// Server serves the index page on / and the event stream on /ws.
type Server struct {
	hub    *Hub
	info   Info
	logger *slog.Logger

	srv      *http.Server
	listener net.Listener
	nextID   atomic.Int64
}

// NewServer creates a server for hub.
func NewServer(hub *Hub, info Info, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{hub: hub, info: info, logger: logger}
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 8192,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin requires the Origin to match the Host, preventing cross-site
// websocket hijacking.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	host := r.Host
	for _, expected := range []string{"http://" + host, "https://" + host} {
		if origin == expected {
			return true
		}
	}
	s.logger.Warn("Rejected websocket connection from unauthorized origin", "origin", origin, "host", host)
	return false
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Watch server stopped", "error", err)
		}
	}()
	s.logger.Info("Watch server listening", "url", "http://"+ln.Addr().String()+"/")
	return nil
}

// Addr returns the listen address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server, waiting for handlers until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := fmt.Fprintf(w, pageTemplate, markdown.RenderToHTML(s.describe())); err != nil {
		s.logger.Debug("Failed to write index page", "error", err)
	}
}

func (s *Server) describe() string {
	var b strings.Builder
	b.WriteString("# t3 live view\n\n")
	fmt.Fprintf(&b, "Command: `%s`\n\n", strings.ReplaceAll(strings.Join(s.info.Command, " "), "`", "'"))
	if s.info.LogFile != "" {
		fmt.Fprintf(&b, "Log file: `%s`\n\n", strings.ReplaceAll(s.info.LogFile, "`", "'"))
	}
	b.WriteString("Lines appear below as they are released. **stderr** lines are highlighted.\n")
	return b.String()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade to websocket", "error", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("Failed to close websocket connection", "error", err)
		}
	}()

	client := &Client{
		ID:     fmt.Sprintf("client-%d", s.nextID.Add(1)),
		Events: make(chan Event, clientBuffer),
		Done:   make(chan struct{}),
	}
	s.hub.RegisterClient(client)
	defer s.hub.UnregisterClient(client.ID)
	defer close(client.Done)

	// Viewers send nothing; reading only notices when they leave.
	gone := make(chan struct{})
	conn.SetReadLimit(readLimitBytes)
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event := <-client.Events:
			if err := s.write(conn, event); err != nil {
				s.logger.Debug("Failed to write websocket message", "clientID", client.ID, "error", err)
				return
			}
		case <-s.hub.Finished():
			// send what is queued, then say goodbye
			for {
				select {
				case event := <-client.Events:
					if err := s.write(conn, event); err != nil {
						return
					}
				default:
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
						time.Now().Add(writeWait))
					return
				}
			}
		case <-gone:
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, event Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(event)
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>t3 live view</title>
<style>
body { font-family: sans-serif; margin: 1em; }
#lines { font-family: monospace; white-space: pre-wrap; }
.stderr { color: #b45309; font-weight: bold; }
.ts { color: #8b5cf6; }
</style>
</head>
<body>
%s
<div id="lines"></div>
<script>
(function () {
  var lines = document.getElementById("lines");
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "/ws");
  ws.onmessage = function (e) {
    var ev = JSON.parse(e.data);
    var div = document.createElement("div");
    if (ev.type === "exit") {
      div.textContent = "[exit " + ev.exit_code + "]";
    } else {
      var ts = document.createElement("span");
      ts.className = "ts";
      ts.textContent = new Date(ev.ts).toLocaleTimeString() + " ";
      var text = document.createElement("span");
      text.className = ev.stream;
      text.textContent = ev.text;
      div.appendChild(ts);
      div.appendChild(text);
    }
    lines.appendChild(div);
  };
})();
</script>
</body>
</html>
`
