package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/playlog/backend/internal/config"
	"github.com/playlog/backend/internal/history"
	"github.com/playlog/backend/internal/tracker"
)

// Server exposes the tracker over HTTP: the WebSocket event stream plus a
// small JSON API for registration, snapshots, and playtime lookups.
type Server struct {
	cfg             *config.Config
	tracker         *tracker.Tracker
	recorder        *history.Recorder
	broadcaster     *Broadcaster
	frontendHandler http.Handler
	allowedOrigins  map[string]bool
	allowedHosts    map[string]bool
	authToken       string
}

func NewServer(cfg *config.Config, tr *tracker.Tracker, recorder *history.Recorder, broadcaster *Broadcaster, frontendHandler http.Handler) *Server {
	s := &Server{
		cfg:             cfg,
		tracker:         tr,
		recorder:        recorder,
		broadcaster:     broadcaster,
		frontendHandler: frontendHandler,
		allowedOrigins:  make(map[string]bool),
		allowedHosts:    make(map[string]bool),
		authToken:       cfg.Server.AuthToken,
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/games", s.handleGames)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/playtime/", s.handlePlaytime)
	mux.HandleFunc("/api/config", s.handleConfig)

	if s.frontendHandler != nil {
		mux.Handle("/", s.frontendHandler)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	log.Debug().Str("remote", r.RemoteAddr).Msg("ws client connected")
	c := s.broadcaster.AddClient(conn)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Debug().Str("remote", r.RemoteAddr).Msg("ws client disconnected")
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			// The stream is server-push only; tell the client instead of
			// silently discarding whatever it sent.
			if len(data) > 0 {
				s.broadcaster.SendError(c, "unsupported message")
			}
		}
	}()
}

// handleGames serves the registry. GET returns the current tracked list;
// PUT replaces it wholesale (no incremental add/remove). Entries failing
// validation are dropped here, before reaching the tracker, which assumes
// everything in its registry is well-formed.
func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.tracker.TrackedGames())

	case http.MethodPut:
		var games []tracker.TrackedGame
		if err := json.NewDecoder(r.Body).Decode(&games); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		valid, dropped := validateGames(games)
		s.tracker.SetTrackedGames(valid)
		writeJSON(w, map[string]int{
			"tracked": len(valid),
			"dropped": dropped,
		})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, s.tracker.ActiveSessions())
}

// handleHistory serves the retained completed sessions, newest last.
// An optional limit query parameter truncates to the most recent N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	writeJSON(w, s.recorder.RecentSessions(limit))
}

// handlePlaytime serves /api/playtime/{gameID}: all-time aggregates for
// one game.
func (s *Server) handlePlaytime(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	gameID, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/playtime/"))
	if err != nil || gameID == "" {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}

	totals, ok := s.recorder.Totals(gameID)
	if !ok {
		http.Error(w, "no playtime recorded", http.StatusNotFound)
		return
	}

	writeJSON(w, struct {
		GameID        string  `json:"gameId"`
		Sessions      int     `json:"sessions"`
		ActiveMinutes float64 `json:"activeMinutes"`
		IdleMinutes   float64 `json:"idleMinutes"`
		LastPlayedAt  string  `json:"lastPlayedAt"`
	}{
		GameID:        gameID,
		Sessions:      totals.Sessions,
		ActiveMinutes: totals.ActiveSeconds / 60,
		IdleMinutes:   totals.IdleSeconds / 60,
		LastPlayedAt:  totals.LastPlayedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, struct {
		PollIntervalSeconds  float64 `json:"pollIntervalSeconds"`
		IdleThresholdSeconds float64 `json:"idleThresholdSeconds"`
	}{
		PollIntervalSeconds:  s.cfg.Tracker.PollInterval.Seconds(),
		IdleThresholdSeconds: s.cfg.Tracker.IdleThreshold.Seconds(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("writing response failed")
	}
}

// validateGames filters a registration request down to well-formed
// entries: non-empty id, absolute executable path, and (on Windows) a
// launchable extension. Invalid entries are dropped with a warning, not
// rejected wholesale, so one bad entry doesn't lose the rest of the list.
func validateGames(games []tracker.TrackedGame) (valid []tracker.TrackedGame, dropped int) {
	seen := make(map[string]bool, len(games))
	valid = make([]tracker.TrackedGame, 0, len(games))
	for _, g := range games {
		if err := validateGame(g); err != nil {
			log.Warn().Str("gameId", g.ID).Str("exe", g.ExePath).Err(err).Msg("dropping invalid game entry")
			dropped++
			continue
		}
		if seen[g.ID] {
			log.Warn().Str("gameId", g.ID).Msg("dropping duplicate game entry")
			dropped++
			continue
		}
		seen[g.ID] = true
		valid = append(valid, g)
	}
	return valid, dropped
}

var windowsExeExtensions = map[string]bool{
	".exe": true,
	".bat": true,
	".cmd": true,
}

func validateGame(g tracker.TrackedGame) error {
	if g.ID == "" {
		return fmt.Errorf("empty id")
	}
	if g.ExePath == "" {
		return fmt.Errorf("empty executable path")
	}
	if !filepath.IsAbs(g.ExePath) {
		return fmt.Errorf("executable path not absolute")
	}
	base := filepath.Base(g.ExePath)
	if base == "." || base == string(filepath.Separator) {
		return fmt.Errorf("executable path has no file name")
	}
	if runtime.GOOS == "windows" && !windowsExeExtensions[strings.ToLower(filepath.Ext(base))] {
		return fmt.Errorf("unexpected executable extension %q", filepath.Ext(base))
	}
	return nil
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	if r.Header.Get("X-Playlog-Token") == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}
	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}
	return false
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Info().Str("addr", addr).Msg("server listening")
	return http.ListenAndServe(addr, mux)
}
