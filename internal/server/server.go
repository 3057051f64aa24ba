// Package server exposes the runtime over HTTP: message submission, tool
// approvals, lifecycle control, and a websocket event stream.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"iris/internal/logging"
	"iris/internal/notify"
	"iris/internal/runtime/status"
)

// Entity is the runnable surface the server drives: agents, teams, and
// workflows all satisfy it.
type Entity interface {
	ID() string
	Status() status.Status
	Start()
	Stop()
	Done() <-chan struct{}
	Bus() *notify.Bus
	SubmitUserMessage(ctx context.Context, content string) error
}

// Approver accepts tool approval decisions; only agents implement it.
type Approver interface {
	SubmitApproval(ctx context.Context, invocationID string, approved bool, reason string) error
}

// Config configures the server.
type Config struct {
	Addr         string
	AllowOrigins []string
}

// Server hosts the HTTP and websocket surface over a set of entities.
type Server struct {
	cfg      Config
	logger   logging.Logger
	entities map[string]Entity
	engine   *gin.Engine
	upgrader websocket.Upgrader
	http     *http.Server
}

// New creates a server over the given entities.
func New(cfg Config, logger logging.Logger, entities ...Entity) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8420"
	}
	s := &Server{
		cfg:      cfg,
		logger:   logging.OrNop(logger),
		entities: make(map[string]Entity, len(entities)),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, e := range entities {
		s.entities[e.ID()] = e
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowOrigins) == 0 || (len(cfg.AllowOrigins) == 1 && cfg.AllowOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowOrigins
	}
	engine.Use(cors.New(corsCfg))

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api/v1")
	api.GET("/entities", s.handleListEntities)
	api.GET("/entities/:id", s.handleGetEntity)
	api.POST("/entities/:id/messages", s.handlePostMessage)
	api.POST("/entities/:id/approvals", s.handlePostApproval)
	api.POST("/entities/:id/start", s.handleStart)
	api.POST("/entities/:id/stop", s.handleStop)
	api.GET("/entities/:id/stream", s.handleStream)

	s.engine = engine
	return s
}

// Run starts serving until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{Addr: s.cfg.Addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening on %s", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) entity(c *gin.Context) (Entity, bool) {
	e, ok := s.entities[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown entity"})
		return nil, false
	}
	return e, true
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListEntities(c *gin.Context) {
	out := make([]gin.H, 0, len(s.entities))
	for id, e := range s.entities {
		out = append(out, gin.H{"id": id, "status": string(e.Status())})
	}
	c.JSON(http.StatusOK, gin.H{"entities": out})
}

func (s *Server) handleGetEntity(c *gin.Context) {
	e, ok := s.entity(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": e.ID(), "status": string(e.Status())})
}

type messageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) handlePostMessage(c *gin.Context) {
	e, ok := s.entity(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := e.SubmitUserMessage(c.Request.Context(), req.Content); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

type approvalRequest struct {
	InvocationID string `json:"invocation_id" binding:"required"`
	Approved     bool   `json:"approved"`
	Reason       string `json:"reason"`
}

func (s *Server) handlePostApproval(c *gin.Context) {
	e, ok := s.entity(c)
	if !ok {
		return
	}
	approver, ok := e.(Approver)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity does not accept approvals"})
		return
	}
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := approver.SubmitApproval(c.Request.Context(), req.InvocationID, req.Approved, req.Reason); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *Server) handleStart(c *gin.Context) {
	e, ok := s.entity(c)
	if !ok {
		return
	}
	e.Start()
	c.JSON(http.StatusOK, gin.H{"status": string(e.Status())})
}

func (s *Server) handleStop(c *gin.Context) {
	e, ok := s.entity(c)
	if !ok {
		return
	}
	e.Stop()
	c.JSON(http.StatusOK, gin.H{"status": string(e.Status())})
}

// handleStream upgrades to a websocket and forwards the entity's stream.
// ?replay=1 prepends the recent event history.
func (s *Server) handleStream(c *gin.Context) {
	e, ok := s.entity(c)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	opts := []notify.SubscribeOption{}
	if c.Query("replay") == "1" {
		opts = append(opts, notify.WithReplay())
	}
	sub := e.Bus().Subscribe(e.ID(), opts...)
	defer e.Bus().Unsubscribe(sub)

	// Reader goroutine detects client disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
