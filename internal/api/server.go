// internal/api/server.go
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/tamzrod/hsc-probe/internal/poller"
	pmodbus "github.com/tamzrod/hsc-probe/internal/poller/modbus"
	"github.com/tamzrod/hsc-probe/internal/status"
	"github.com/tamzrod/hsc-probe/internal/writer"
)

// controlTimeout bounds connect/disconnect requests.
const controlTimeout = 10 * time.Second

// Server exposes the engine over HTTP.
type Server struct {
	Router *gin.Engine

	sched    *poller.Scheduler
	tracker  *status.Tracker
	journal  *writer.Journal
	registry prometheus.Gatherer
	defaults pmodbus.Params
}

// Options carries everything the handlers read from.
// Registry may be nil, in which case /metrics is not installed.
type Options struct {
	Scheduler *poller.Scheduler
	Tracker   *status.Tracker
	Journal   *writer.Journal
	Registry  prometheus.Gatherer
	Defaults  pmodbus.Params
}

func NewServer(o Options) (*Server, error) {
	if o.Scheduler == nil || o.Tracker == nil || o.Journal == nil {
		return nil, errors.New("api: scheduler, tracker and journal required")
	}

	s := &Server{
		Router:   newEngine(),
		sched:    o.Scheduler,
		tracker:  o.Tracker,
		journal:  o.Journal,
		registry: o.Registry,
		defaults: o.Defaults,
	}
	s.InstallHandlers()
	return s, nil
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(logger(), gin.Recovery())
	return engine
}

func logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		klog.V(4).InfoS("Received HTTP request",
			"verb", c.Request.Method,
			"URI", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func (s *Server) InstallHandlers() {
	v1 := s.Router.Group("/api/v1")

	v1.POST("/connection", connect(s))
	v1.DELETE("/connection", disconnect(s))
	v1.PUT("/polling", setPolling(s))

	v1.POST("/blocks/:name/read", readBlock(s))
	v1.POST("/coils/:coil/write", writeCoil(s))
	v1.POST("/outputs/:index/toggle", toggleOutput(s))

	v1.GET("/blocks", listBlocks(s))
	v1.GET("/status", getStatus(s))
	v1.GET("/journal", getJournal(s))

	if s.registry != nil {
		s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}
}

// Serve starts listening and returns the shutdown func.
func (s *Server) Serve(listen string) func(ctx context.Context) {
	srv := &http.Server{
		Addr:    listen,
		Handler: s.Router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.ErrorS(err, "api server stopped", "listen", listen)
		}
	}()
	klog.V(1).InfoS("api listening", "listen", listen)

	return func(ctx context.Context) {
		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(ctx); err != nil {
			klog.ErrorS(err, "api shutdown")
		}
	}
}
