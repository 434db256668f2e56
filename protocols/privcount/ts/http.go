package ts

import (
	"context"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/privcount/privcount/pkg/persist"
)

// Server exposes the TS's read-only outcomes/status surface named in
// SPEC_FULL.md's external-interfaces expansion: analysts poll these
// endpoints instead of parsing the outcomes file off disk directly.
type Server struct {
	store  persist.Store
	fsm    *FSM
	health *HealthTracker
	engine *gin.Engine
}

// NewServer builds the gin router. Routes are registered eagerly so
// Engine can be reused directly by net/http.Server or httptest.
func NewServer(store persist.Store, fsm *FSM, health *HealthTracker) *Server {
	s := &Server{store: store, fsm: fsm, health: health, engine: gin.New()}
	s.engine.Use(gin.Recovery())
	s.engine.GET("/outcomes/latest", s.handleLatestOutcome)
	s.engine.GET("/status", s.handleStatus)
	return s
}

// Engine exposes the underlying router for embedding in an http.Server
// or a test harness.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) handleLatestOutcome(c *gin.Context) {
	out, ok, err := s.store.LastOutcome(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no outcome has been published yet"})
		return
	}
	c.JSON(http.StatusOK, out)
}

type statusResponse struct {
	Phase      string   `json:"phase"`
	SSID       string   `json:"ssid,omitempty"`
	AliveNodes []string `json:"alive_nodes"`
}

func (s *Server) handleStatus(c *gin.Context) {
	alive := s.health.AliveNodes(time.Now())
	names := make([]string, len(alive))
	for i, id := range alive {
		names[i] = string(id)
	}
	resp := statusResponse{Phase: s.fsm.Phase().String(), AliveNodes: names}
	if ssid := s.fsm.SSID(); len(ssid) > 0 {
		resp.SSID = hex.EncodeToString(ssid)
	}
	c.JSON(http.StatusOK, resp)
}

// Run starts the HTTP server on addr and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
