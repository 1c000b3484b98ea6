package editor

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"

	"github.com/lastmile-ai/aiconfig-sub000/internal/logger"
	"github.com/lastmile-ai/aiconfig-sub000/internal/model"
	"github.com/lastmile-ai/aiconfig-sub000/internal/runtime"
)

const writeTimeout = 10 * time.Second

// Options configures the editor server.
type Options struct {
	Registry *model.Registry
	Audit    *RunStore
	// AutosaveSpec is a cron expression for periodic saves of every
	// path-bound session, "" disables autosave.
	AutosaveSpec string
}

// Server accepts editor websocket connections, one session each.
type Server struct {
	reg      *model.Registry
	audit    *RunStore
	autosave string
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session

	cron      *cron.Cron
	startedAt time.Time
}

// NewServer creates an editor server. A nil registry means the
// process-wide default.
func NewServer(opts Options) *Server {
	reg := opts.Registry
	if reg == nil {
		reg = model.Default()
	}
	return &Server{
		reg:      reg,
		audit:    opts.Audit,
		autosave: opts.AutosaveSpec,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions:  map[string]*Session{},
		startedAt: time.Now().UTC(),
	}
}

// Handler returns the HTTP routes: /ws for sessions, /health for probes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start begins the autosave schedule, when one is configured.
func (s *Server) Start() error {
	if s.autosave == "" {
		return nil
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.autosave, s.saveAll); err != nil {
		return err
	}
	s.cron.Start()
	logger.Info("editor autosave scheduled: %s", s.autosave)
	return nil
}

// Stop halts the autosave schedule and runs one final save pass.
func (s *Server) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	s.saveAll()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	active := len(s.sessions)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":         true,
		"started_at": s.startedAt.Format(time.RFC3339),
		"uptime_sec": int(time.Since(s.startedAt).Seconds()),
		"sessions":   active,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")

	var rt *runtime.Runtime
	var err error
	if path != "" {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		rt, err = runtime.LoadOrCreate(path, name, s.reg)
		if err != nil {
			logger.Error("editor: open %s: %v", path, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		rt = runtime.Create("untitled", s.reg)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("editor: upgrade failed: %v", err)
		return
	}

	sess := NewSession(rt, s.reg, s.audit)
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
	logger.Info("editor: session %s connected (path=%q)", sess.ID(), path)

	// single writer for this connection
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case frame := <-sess.Out():
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					logger.Warn("editor: session %s write: %v", sess.ID(), err)
					return
				}
			case <-sess.Done():
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		sess.HandleFrame(data)
	}

	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.mu.Unlock()

	sess.Close()
	<-writerDone
	conn.Close()
	logger.Info("editor: session %s disconnected", sess.ID())
}

// saveAll persists every session with a bound file path.
func (s *Server) saveAll() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		rt := sess.Runtime()
		if rt.FilePath == "" {
			continue
		}
		if err := rt.Save("", true); err != nil {
			logger.Warn("editor: autosave %s: %v", rt.FilePath, err)
		}
	}
}
