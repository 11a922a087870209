// Package apiserver is a small HTTP front end exposing the generated HLS
// playlist and segment files over plain GET requests, plus a WebSocket feed
// of muxer events (segment rotation, write errors), built the way the
// teacher exposes its HLS muxer over gin.
package apiserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/aler9/tsmux/internal/hls"
	"github.com/aler9/tsmux/internal/logger"
)

// Event is pushed to every connected WebSocket client.
type Event struct {
	Type      string  `json:"type"`
	URL       string  `json:"url,omitempty"`
	Message   string  `json:"message,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// Server serves BaseFolder's contents over HTTP and relays muxer events
// over WebSocket.
type Server struct {
	hls.BaseDelegate

	address    string
	baseFolder string
	log        logger.Writer

	ln net.Listener
	hs *http.Server

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// New allocates a Server. It must be registered as an internal/hls.Delegate
// to receive DidRotate / DidGenerateTS / DidGenerateM3U8 / WriterError
// events alongside whatever primary delegate the caller also installs.
func New(address, baseFolder string, log logger.Writer) *Server {
	return &Server{
		address:    address,
		baseFolder: baseFolder,
		log:        log,
		clients:    make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start opens the listener and begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("apiserver: %w", err)
	}
	s.ln = ln

	router := gin.New()
	router.GET("/events", s.handleEvents)
	router.NoRoute(s.handleFile)

	s.hs = &http.Server{Handler: router}
	go s.hs.Serve(s.ln)

	s.logf(logger.Info, "listening on %s", s.address)

	return nil
}

// Close shuts the server down.
func (s *Server) Close() error {
	if s.hs == nil {
		return nil
	}
	return s.hs.Shutdown(context.Background())
}

func (s *Server) logf(level logger.Level, format string, args ...interface{}) {
	if s.log != nil {
		s.log.Log(level, "[api] "+format, args...)
	}
}

func (s *Server) handleFile(ctx *gin.Context) {
	name := filepath.Clean(ctx.Request.URL.Path)
	if name == "." || name == "/" {
		name = "/" + "ScreenRecording.m3u8"
	}

	full := filepath.Join(s.baseFolder, filepath.Clean("/"+name))
	if !isWithin(s.baseFolder, full) {
		ctx.Writer.WriteHeader(http.StatusNotFound)
		return
	}

	f, err := os.Open(full)
	if err != nil {
		ctx.Writer.WriteHeader(http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		ctx.Writer.WriteHeader(http.StatusNotFound)
		return
	}

	ctx.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	http.ServeContent(ctx.Writer, ctx.Request, filepath.Base(full), info.ModTime(), f)
}

// isWithin reports whether target is base or a descendant of base.
func isWithin(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (s *Server) handleEvents(ctx *gin.Context) {
	conn, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	// drain reads so control frames (ping/close) are handled, discard
	// anything the client sends.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcast(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		if err := c.WriteJSON(ev); err != nil {
			c.Close()
			delete(s.clients, c)
		}
	}
}

// DidRotate implements hls.Delegate.
func (s *Server) DidRotate(timestamp time.Duration) {
	s.broadcast(Event{Type: "rotate", Timestamp: timestamp.Seconds()})
}

// DidGenerateTS implements hls.Delegate.
func (s *Server) DidGenerateTS(url string) {
	s.broadcast(Event{Type: "segment", URL: url})
}

// DidGenerateM3U8 implements hls.Delegate.
func (s *Server) DidGenerateM3U8(url string) {
	s.broadcast(Event{Type: "playlist", URL: url})
}

// WriterError implements hls.Delegate.
func (s *Server) WriterError(kind hls.ErrorKind, message string) {
	s.broadcast(Event{Type: "error", Message: kind.String() + ": " + message})
}
