// Package api serves the HTTP surface: controller status, tick history,
// diagnostics, operational controls and a live websocket stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"sunblind/engine"
	"sunblind/history"
	"sunblind/statebus"
)

// StateBus is the slice of the bus the API exposes.
type StateBus interface {
	Snapshot() map[string]statebus.State
	Inject(state statebus.State)
	IsConnected() bool
	Size() int
}

// Server holds the HTTP handlers and the websocket fan-out.
type Server struct {
	engine *engine.Engine
	bus    StateBus
	buffer *history.Buffer
	log    *slog.Logger

	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool
}

func NewServer(eng *engine.Engine, bus StateBus, buffer *history.Buffer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine: eng,
		bus:    bus,
		buffer: buffer,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// Handler builds the router with CORS and panic recovery applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/controllers", s.handleControllers).Methods(http.MethodGet)
	r.HandleFunc("/api/controllers/{name}", s.handleController).Methods(http.MethodGet)
	r.HandleFunc("/api/controllers/{name}/history", s.handleControllerHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/controllers/{name}/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/controllers/{name}/override/reset", s.handleOverrideReset).Methods(http.MethodPost)
	r.HandleFunc("/api/controllers/{name}/position", s.handleManualPosition).Methods(http.MethodPost)
	r.HandleFunc("/api/controllers/{name}/toggles", s.handleToggles).Methods(http.MethodPost)
	r.HandleFunc("/api/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/diagnostics", s.handleDiagnostics).Methods(http.MethodGet)
	r.HandleFunc("/api/simulate", s.handleSimulate).Methods(http.MethodPost)
	r.HandleFunc("/api/stream", s.handleStream).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return handlers.RecoveryHandler()(cors(r))
}

// Run serves until the context is canceled, then drains with a short
// shutdown deadline.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket connections stay open
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeClients()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api serve: %w", err)
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) controller(w http.ResponseWriter, r *http.Request) *engine.Controller {
	name := mux.Vars(r)["name"]
	c := s.engine.ByName(name)
	if c == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown controller %q", name))
	}
	return c
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"bus_connected": s.bus.IsConnected(),
		"controllers":   len(s.engine.Controllers()),
	})
}

func (s *Server) handleControllers(w http.ResponseWriter, r *http.Request) {
	statuses := make([]engine.Status, 0, len(s.engine.Controllers()))
	for _, c := range s.engine.Controllers() {
		statuses = append(statuses, c.Status())
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleController(w http.ResponseWriter, r *http.Request) {
	c := s.controller(w, r)
	if c == nil {
		return
	}
	writeJSON(w, http.StatusOK, c.Status())
}

func (s *Server) handleControllerHistory(w http.ResponseWriter, r *http.Request) {
	c := s.controller(w, r)
	if c == nil {
		return
	}
	limit := queryInt(r, "limit", 100)
	records := s.buffer.Recent(s.buffer.Size())
	filtered := make([]history.TickRecord, 0, limit)
	for _, rec := range records {
		if rec.Controller != c.Name() {
			continue
		}
		filtered = append(filtered, rec)
		if len(filtered) >= limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, filtered)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)

	from, hasFrom := queryTime(r, "from")
	to, hasTo := queryTime(r, "to")
	if hasFrom && hasTo {
		writeJSON(w, http.StatusOK, s.buffer.ByTimeRange(from, to))
		return
	}
	writeJSON(w, http.StatusOK, s.buffer.Recent(limit))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c := s.controller(w, r)
	if c == nil {
		return
	}
	c.ForceRefresh(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (s *Server) handleOverrideReset(w http.ResponseWriter, r *http.Request) {
	c := s.controller(w, r)
	if c == nil {
		return
	}
	var body struct {
		Entity string `json:"entity"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body) // empty body resets all
	}
	c.ResetOverride(body.Entity)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleManualPosition(w http.ResponseWriter, r *http.Request) {
	c := s.controller(w, r)
	if c == nil {
		return
	}
	var body struct {
		Entity   string `json:"entity"`
		Position *int   `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Entity == "" || body.Position == nil {
		writeError(w, http.StatusBadRequest, "entity and position are required")
		return
	}
	if *body.Position < 0 || *body.Position > 100 {
		writeError(w, http.StatusBadRequest, "position outside [0, 100]")
		return
	}
	if err := c.SetManualPosition(r.Context(), body.Entity, *body.Position); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "entity": body.Entity, "position": *body.Position})
}

func (s *Server) handleToggles(w http.ResponseWriter, r *http.Request) {
	c := s.controller(w, r)
	if c == nil {
		return
	}
	var body struct {
		Control         *bool `json:"control"`
		ClimateMode     *bool `json:"climate_mode"`
		ManualDetection *bool `json:"manual_detection"`
		ReturnToDefault *bool `json:"return_to_default"`
		UseLux          *bool `json:"use_lux"`
		UseIrradiance   *bool `json:"use_irradiance"`
		PreferOutside   *bool `json:"prefer_outside_temp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Control != nil {
		c.SetControlEnabled(*body.Control)
	}
	if body.ClimateMode != nil {
		c.SetClimateMode(*body.ClimateMode)
	}
	if body.ManualDetection != nil {
		c.SetManualDetection(*body.ManualDetection)
	}
	if body.ReturnToDefault != nil {
		c.SetReturnToDefault(*body.ReturnToDefault)
	}
	if body.UseLux != nil {
		c.SetUseLux(*body.UseLux)
	}
	if body.UseIrradiance != nil {
		c.SetUseIrradiance(*body.UseIrradiance)
	}
	if body.PreferOutside != nil {
		c.SetPreferOutsideTemp(*body.PreferOutside)
	}
	writeJSON(w, http.StatusOK, c.Status())
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	statuses := make([]engine.Status, 0, len(s.engine.Controllers()))
	for _, c := range s.engine.Controllers() {
		statuses = append(statuses, c.Status())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bus": map[string]any{
			"connected": s.bus.IsConnected(),
			"entities":  s.bus.Size(),
		},
		"history":     s.buffer.Stats(),
		"controllers": statuses,
		"generated":   time.Now().UTC(),
	})
}

// handleSimulate injects an entity state directly into the bus, bypassing
// the broker. Intended for integration testing and dry runs.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EntityID   string         `json:"entity_id"`
		Value      string         `json:"value"`
		Attributes map[string]any `json:"attributes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.EntityID == "" {
		writeError(w, http.StatusBadRequest, "entity_id is required")
		return
	}
	s.bus.Inject(statebus.State{
		EntityID:   body.EntityID,
		Value:      body.Value,
		Attributes: body.Attributes,
		Updated:    time.Now(),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "injected", "entity_id": body.EntityID})
}

// handleStream upgrades to a websocket and pushes one JSON tick record per
// evaluation until the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.log.Info("stream client connected", "clients", count)

	// Reader loop only to detect disconnect.
	go func() {
		defer s.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Push implements the tick recorder hook; each record fans out to all
// connected stream clients.
func (s *Server) Push(rec history.TickRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for conn := range s.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

func (s *Server) dropClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if s.clients[conn] {
		delete(s.clients, conn)
		conn.Close()
	}
	s.clientsMu.Unlock()
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func queryTime(r *http.Request, key string) (time.Time, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
