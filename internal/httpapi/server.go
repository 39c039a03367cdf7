package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/seep/internal/config"
	"github.com/ent0n29/seep/internal/observability"
	"github.com/ent0n29/seep/internal/protocol"
	"github.com/ent0n29/seep/internal/session"
	"github.com/ent0n29/seep/internal/transcript"
	"github.com/ent0n29/seep/internal/widget"
)

// WidgetFactory is satisfied by *widget.Factory.
type WidgetFactory interface {
	New(sessionID string, embed widget.Embed, loc *time.Location) (*widget.Widget, error)
}

type Server struct {
	cfg        config.Config
	sessions   *session.Manager
	factory    WidgetFactory
	transcript transcript.Store
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	widgets map[string]*widget.Widget
}

func New(cfg config.Config, sessions *session.Manager, factory WidgetFactory, store transcript.Store, metrics *observability.Metrics) *Server {
	s := &Server{
		cfg:        cfg,
		sessions:   sessions,
		factory:    factory,
		transcript: store,
		metrics:    metrics,
		widgets:    make(map[string]*widget.Widget),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	sessions.SetExpireHook(s.onSessionExpired)
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/widget/session", s.handleCreateSession)
	r.Post("/v1/widget/session/{id}/end", s.handleEndSession)
	r.Get("/v1/widget/session/{id}/messages", s.handleMessages)
	r.Get("/v1/widget/session/{id}/transcript", s.handleTranscript)
	r.Get("/v1/widget/session/ws", s.handleSessionWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"backend_mode":     s.cfg.BackendMode,
		"transcript_store": s.transcriptMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"active_widgets": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	embed := widget.ParseEmbed(req.ScriptSrc, req.MerchantID)
	if strings.TrimSpace(req.MerchantID) == "" && s.cfg.DefaultMerchantID != "" {
		embed.MerchantID = s.cfg.DefaultMerchantID
	}
	if embed.Host == "" {
		embed.Host = s.cfg.ServiceHost
	}
	if !s.cfg.HostAllowed(embed.Host) {
		s.metrics.SessionEvents.WithLabelValues("host_rejected").Inc()
		respondError(w, http.StatusForbidden, "host_not_allowed", "script origin is not an allowed service host")
		return
	}
	loc := time.UTC
	if tz := strings.TrimSpace(req.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_timezone", err.Error())
			return
		}
		loc = l
	}

	sess := s.sessions.Create(embed.MerchantID, embed.Host, loc.String())
	wg, err := s.factory.New(sess.ID, embed, loc)
	if err != nil {
		_, _ = s.sessions.End(sess.ID)
		if errors.Is(err, widget.ErrHostNotAllowed) {
			respondError(w, http.StatusForbidden, "host_not_allowed", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "widget_unavailable", err.Error())
		return
	}
	wg.Init(r.Context())

	s.mu.Lock()
	s.widgets[sess.ID] = wg
	s.mu.Unlock()
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		MerchantID:      sess.MerchantID,
		ServiceHost:     sess.ServiceHost,
		Status:          sess.Status,
		Timezone:        sess.Timezone,
		Color:           wg.Config().Color,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.endWidget(id)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wg, ok := s.widget(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", session.ErrNotFound.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"streaming":  wg.Streaming(),
		"messages":   wg.Messages(),
	})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if s.transcript == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "transcript store not configured")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := s.transcript.Recent(r.Context(), sess.MerchantID, sess.ID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript_unavailable", err.Error())
		return
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":  sess.ID,
		"merchant_id": sess.MerchantID,
		"entries":     entries,
	})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil || sess.Status != session.StatusActive {
		respondError(w, http.StatusNotFound, "session_not_found", session.ErrNotFound.Error())
		return
	}
	wg, ok := s.widget(sessionID)
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", session.ErrNotFound.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	sink := &wsSink{ctx: ctx, out: outbound, metrics: s.metrics}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := protocol.TypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	detach := wg.Attach(sink)
	defer detach()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	// Replies outlive the connection; a reconnect picks them up from the log.
	turnCtx := context.WithoutCancel(r.Context())

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			sink.Emit(errorEvent(sessionID, "invalid_client_message", "gateway", false, err.Error()))
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		_ = s.sessions.Touch(sessionID)
		s.dispatch(turnCtx, wg, sink, parsed)
	}

	cancel()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) dispatch(ctx context.Context, wg *widget.Widget, sink *wsSink, msg any) {
	sessionID := wg.SessionID()
	switch m := msg.(type) {
	case protocol.ClientOpen:
		if m.SessionID != sessionID {
			sink.Emit(errorEvent(sessionID, "session_mismatch", "gateway", false, "session_id does not match connection"))
			return
		}
		wg.Open()
	case protocol.ClientClose:
		wg.Close()
	case protocol.ClientSubmit:
		if m.SessionID != sessionID {
			sink.Emit(errorEvent(sessionID, "session_mismatch", "gateway", false, "session_id does not match connection"))
			return
		}
		go s.submit(ctx, wg, sink, m.Text, wg.Submit)
	case protocol.ClientQuickReply:
		go s.submit(ctx, wg, sink, m.Text, wg.QuickReply)
	case protocol.ClientActionClick:
		if !wg.ClickAction(m.Target) {
			sink.Emit(errorEvent(sessionID, "unknown_action", "widget", false, "action "+m.Target+" is not configured"))
		}
	}
}

func (s *Server) submit(ctx context.Context, wg *widget.Widget, sink *wsSink, text string, fn func(context.Context, string) error) {
	err := fn(ctx, text)
	switch {
	case err == nil:
	case errors.Is(err, widget.ErrBusy):
		sink.Emit(errorEvent(wg.SessionID(), "busy", "widget", true, err.Error()))
	case errors.Is(err, widget.ErrEnded):
		sink.Emit(errorEvent(wg.SessionID(), "session_ended", "widget", false, err.Error()))
	default:
		// Already rendered to the shopper as an error message.
		log.Printf("session %s submit: %v", wg.SessionID(), err)
	}
}

func (s *Server) onSessionExpired(sess *session.Session) {
	s.endWidget(sess.ID)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("expired").Inc()
}

func (s *Server) widget(id string) (*widget.Widget, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wg, ok := s.widgets[id]
	return wg, ok
}

func (s *Server) endWidget(id string) {
	s.mu.Lock()
	wg, ok := s.widgets[id]
	delete(s.widgets, id)
	s.mu.Unlock()
	if ok {
		wg.End()
	}
}

// Shutdown ends every live widget, superseding in-flight replies.
func (s *Server) Shutdown() {
	s.mu.Lock()
	widgets := s.widgets
	s.widgets = make(map[string]*widget.Widget)
	s.mu.Unlock()
	for id, wg := range widgets {
		wg.End()
		_, _ = s.sessions.End(id)
	}
}

func (s *Server) transcriptMode() string {
	switch s.transcript.(type) {
	case nil:
		return "disabled"
	case *transcript.PostgresStore:
		return "postgres"
	default:
		return "in-memory"
	}
}

// wsSink queues widget events for the connection writer. Droppable events
// are skipped when the queue is full; the rest wait for room.
type wsSink struct {
	ctx     context.Context
	out     chan<- any
	metrics *observability.Metrics
}

func (k *wsSink) Emit(event any) {
	if protocol.Droppable(event) {
		select {
		case k.out <- event:
		default:
			t, _ := protocol.TypeOf(event)
			k.metrics.WSMessages.WithLabelValues("dropped", string(t)).Inc()
		}
		return
	}
	select {
	case k.out <- event:
	case <-k.ctx.Done():
	}
}

func errorEvent(sessionID, code, source string, retryable bool, detail string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
