package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/lysine/internal/metrics"
	"github.com/loykin/lysine/internal/supervisor"
)

// StatusSource reports the current supervisor status.
type StatusSource interface {
	Status() supervisor.Status
}

// Router provides read-only HTTP handlers for a running supervisor.
// Endpoints:
//
//	GET {basePath}/status    current supervisor status as JSON
//	GET {basePath}/healthz   200 while the child is supervised, 503 afterwards
//	GET {basePath}/metrics   Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src      StatusSource
	basePath string
}

func NewRouter(src StatusSource, basePath string) *Router {
	return &Router{src: src, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealth)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Callers stop it with Shutdown or Close.
func NewServer(addr, basePath string, src StatusSource) *http.Server {
	r := NewRouter(src, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type healthResp struct {
	OK    bool             `json:"ok"`
	State supervisor.State `json:"state"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.src.Status())
}

func (r *Router) handleHealth(c *gin.Context) {
	st := r.src.Status()
	if st.State == supervisor.StateTerminating || st.State == supervisor.StateTerminated {
		writeJSON(c, http.StatusServiceUnavailable, healthResp{OK: false, State: st.State})
		return
	}
	writeJSON(c, http.StatusOK, healthResp{OK: true, State: st.State})
}
