// Package api exposes the operator read surface: ledger snapshots,
// stream inventory, and a live event feed. All endpoints are read-only;
// trading is driven exclusively by the engines.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"strategy-core/internal/events"
	"strategy-core/internal/ledger"
	"strategy-core/internal/stream"
)

// Instance is the engine surface the API reads from.
type Instance interface {
	ID() string
	Ledger() *ledger.Ledger
	Streams() *stream.Manager
	Pending() []string
}

// Server wires the HTTP endpoints.
type Server struct {
	Router    *gin.Engine
	log       *zap.Logger
	bus       *events.Bus
	engines   []Instance
	jwtSecret string
}

func NewServer(log *zap.Logger, bus *events.Bus, engines []Instance, jwtSecret string) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(requestLogger(log))

	s := &Server{
		Router:    r,
		log:       log,
		bus:       bus,
		engines:   engines,
		jwtSecret: jwtSecret,
	}

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", s.websocket)

	authed := r.Group("/api", AuthMiddleware(jwtSecret))
	authed.GET("/positions", s.positions)
	authed.GET("/monitored", s.monitored)
	authed.GET("/sell-journal", s.sellJournal)
	authed.GET("/streams", s.streams)
	authed.GET("/orders", s.orders)
	authed.GET("/candles/:symbol", s.candles)

	return s
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return srv.ListenAndServe()
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("RequestID", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", c.GetString("RequestID")))
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "strategies": len(s.engines)})
}

func (s *Server) positions(c *gin.Context) {
	out := make(map[string][]ledger.Position, len(s.engines))
	for _, e := range s.engines {
		out[e.ID()] = e.Ledger().Positions()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) monitored(c *gin.Context) {
	out := make(map[string][]ledger.Monitored, len(s.engines))
	for _, e := range s.engines {
		out[e.ID()] = e.Ledger().MonitoredSymbols()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) sellJournal(c *gin.Context) {
	out := make(map[string][]ledger.SellRecord, len(s.engines))
	for _, e := range s.engines {
		out[e.ID()] = e.Ledger().SellJournal()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) streams(c *gin.Context) {
	out := make(map[string][]stream.Info, len(s.engines))
	for _, e := range s.engines {
		out[e.ID()] = e.Streams().Inventory()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) orders(c *gin.Context) {
	out := make(map[string][]string, len(s.engines))
	for _, e := range s.engines {
		out[e.ID()] = e.Pending()
	}
	c.JSON(http.StatusOK, out)
}

// candles returns the series snapshot for one symbol. With several
// strategies the optional ?strategy= selects the instance; otherwise
// the first engine holding the symbol wins.
func (s *Server) candles(c *gin.Context) {
	symbol := c.Param("symbol")
	want := c.Query("strategy")

	for _, e := range s.engines {
		if want != "" && e.ID() != want {
			continue
		}
		if sr := e.Streams().Series(symbol); sr != nil {
			c.JSON(http.StatusOK, gin.H{
				"strategy": e.ID(),
				"symbol":   symbol,
				"candles":  sr.Snapshot(),
			})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol", "symbol": symbol})
}
