package httpserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pitched26/pitched/internal/coach"
	"github.com/pitched26/pitched/internal/config"
	"github.com/pitched26/pitched/internal/logging"
	"github.com/pitched26/pitched/internal/rtc"
)

// OfferFunc negotiates one peer connection for a rehearsal session. It is
// a field so tests can stub out the WebRTC layer.
type OfferFunc func(id string, offer rtc.SessionDescription, sink rtc.AudioSink, onClosed func()) (rtc.SessionDescription, error)

// Server bundles the echo router, the session registry and dependencies.
type Server struct {
	Echo     *echo.Echo
	cfg      config.Config
	analyzer coach.Analyzer
	offer    OfferFunc
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*coach.Session
}

// New constructs the HTTP server with routes.
func New(cfg config.Config, analyzer coach.Analyzer) *Server {
	s := &Server{
		cfg:      cfg,
		analyzer: analyzer,
		offer:    rtc.HandleOffer,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		sessions: make(map[string]*coach.Session),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/session", s.createSession)
	e.GET("/session/:id/state", s.sessionState)
	e.GET("/session/:id/live", s.sessionLive)
	e.POST("/session/:id/stop", s.stopSession)
	e.DELETE("/session/:id", s.deleteSession)

	s.Echo = e
	return s
}

type createSessionResponse struct {
	ID     string                 `json:"id"`
	Answer rtc.SessionDescription `json:"answer"`
}

// createSession negotiates a microphone peer connection and starts the
// analysis pipeline for it. A failed negotiation means no audio source is
// available, which is fatal to the session.
func (s *Server) createSession(c echo.Context) error {
	var offer rtc.SessionDescription
	if err := c.Bind(&offer); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid offer")
	}

	id := uuid.NewString()
	sess := coach.NewSession(s.analyzer, coach.Options{
		CyclePeriod:       s.cfg.CyclePeriod,
		MinSegment:        s.cfg.MinSegment,
		MaxInflight:       s.cfg.MaxInflight,
		ContextCharBudget: s.cfg.ContextCharBudget,
		PaceTick:          s.cfg.PaceTick,
	})
	if err := sess.Start(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	answer, err := s.offer(id, offer, sess, func() {
		logging.Infow("peer disconnected, stopping session", "session", id)
		sess.Stop()
	})
	if err != nil {
		sess.Stop()
		logging.Errorw("offer negotiation failed", "session", id, "err", err)
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	logging.Infow("session created", "session", id)
	return c.JSON(http.StatusOK, createSessionResponse{ID: id, Answer: answer})
}

func (s *Server) lookup(id string) (*coach.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Server) sessionState(c echo.Context) error {
	sess, ok := s.lookup(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	return c.JSON(http.StatusOK, sess.Snapshot())
}

// sessionLive streams state snapshots over a websocket on the pace refresh
// period, so the overlay can render the pace needle independently of the
// much slower analysis cycles.
func (s *Server) sessionLive(c echo.Context) error {
	sess, ok := s.lookup(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Read pump: the client sends nothing meaningful, but reading is the
	// only way to notice a close frame or a dropped peer before the next
	// write fails.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	tick := s.cfg.PaceTick
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			logging.Debugw("live feed client gone", "session", c.Param("id"))
			return nil
		case <-ticker.C:
			if err := conn.WriteJSON(sess.Snapshot()); err != nil {
				logging.Debugw("live feed closed", "session", c.Param("id"), "err", err)
				return nil
			}
		}
	}
}

func (s *Server) stopSession(c echo.Context) error {
	sess, ok := s.lookup(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	sess.Stop()
	return c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) deleteSession(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	sess.Stop()
	return c.NoContent(http.StatusNoContent)
}
