// Package api exposes the supervision command/output surface over HTTP:
// case admission, per-case status and rates, contraindication checks, a
// live telemetry stream, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/noa-infusion-supervisor/internal/domain"
	"github.com/noa-infusion-supervisor/internal/middleware"
)

// Server is the HTTP server for the supervision API.
type Server struct {
	logger   *logrus.Logger
	cfg      *domain.ServerConfig
	registry *Registry
	promReg  *prometheus.Registry
	router   *gin.Engine
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates the HTTP server and wires its routes.
func NewServer(logger *logrus.Logger, cfg *domain.ServerConfig, registry *Registry, promReg *prometheus.Registry) *Server {
	if logger.GetLevel() >= logrus.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger())
	router.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateBurst))

	s := &Server{
		logger:   logger,
		cfg:      cfg,
		registry: registry,
		promReg:  promReg,
		router:   router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	s.setupRoutes()
	return s
}

// Start runs the server until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/cases", s.handleAdmitCase)
		v1.GET("/cases/:id", s.handleGetCase)
		v1.GET("/cases/:id/rates", s.handleGetRates)
		v1.GET("/cases/:id/availability", s.handleGetAvailability)
		v1.GET("/cases/:id/lockouts", s.handleGetLockouts)
		v1.GET("/cases/:id/check/:drug", s.handleCheckDrug)
		v1.GET("/cases/:id/stream", s.handleStream)
		v1.DELETE("/cases/:id", s.handleDischargeCase)
	}
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// handleAdmitCase admits a new patient case and starts its supervision
// loop. Setup failures are reported here, before any tick runs: intake
// validation errors as 400, clinical configuration gaps as 500.
func (s *Server) handleAdmitCase(c *gin.Context) {
	var profile domain.PatientProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid patient profile: %v", err)})
		return
	}

	cs, err := s.registry.Admit(profile)
	if err != nil {
		var paramErr *domain.ParameterError
		if errors.As(err, &paramErr) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap := cs.Snapshot()
	c.JSON(http.StatusCreated, gin.H{
		"case_id":      cs.ID,
		"status":       snap.Status,
		"lockouts":     cs.Lockouts().Drugs(),
		"rates":        snap.Rates,
		"availability": snap.Availability,
	})
}

// handleGetCase returns the full per-tick decision state for a case.
func (s *Server) handleGetCase(c *gin.Context) {
	cs, ok := s.lookupCase(c)
	if !ok {
		return
	}
	snap := cs.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"case_id":        cs.ID,
		"status":         snap.Status,
		"tick":           snap.Tick,
		"rates":          snap.Rates,
		"availability":   snap.Availability,
		"concentrations": snap.Concentrations,
		"vitals":         snap.Vitals,
		"lockouts":       cs.Lockouts().Drugs(),
	})
}

// handleGetRates returns the numeric infusion-rate vector a pump-control
// layer would actuate.
func (s *Server) handleGetRates(c *gin.Context) {
	cs, ok := s.lookupCase(c)
	if !ok {
		return
	}
	snap := cs.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"case_id": cs.ID,
		"status":  snap.Status,
		"rates":   snap.Rates,
	})
}

// handleGetAvailability returns the bolus-only adjunct availability map.
func (s *Server) handleGetAvailability(c *gin.Context) {
	cs, ok := s.lookupCase(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"case_id":      cs.ID,
		"availability": cs.Snapshot().Availability,
	})
}

// handleGetLockouts returns the case's hard lockout set.
func (s *Server) handleGetLockouts(c *gin.Context) {
	cs, ok := s.lookupCase(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"case_id":  cs.ID,
		"lockouts": cs.Lockouts().Drugs(),
	})
}

// handleCheckDrug evaluates the contraindication status of a named drug
// for operator display.
func (s *Server) handleCheckDrug(c *gin.Context) {
	cs, ok := s.lookupCase(c)
	if !ok {
		return
	}
	result, err := cs.Check(c.Param("drug"))
	if err != nil {
		if errors.Is(err, domain.ErrDrugNotConfigured) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleDischargeCase cancels a case's loop and removes it. The response
// carries the final snapshot: cancellation must never report a rate vector
// the loop did not actually compute.
func (s *Server) handleDischargeCase(c *gin.Context) {
	cs, err := s.registry.Discharge(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	snap := cs.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"case_id":     cs.ID,
		"final_tick":  snap.Tick,
		"final_rates": snap.Rates,
		"status":      snap.Status,
	})
}

// handleStream upgrades to a websocket and pushes one snapshot per tick
// until the client disconnects or the case ends.
func (s *Server) handleStream(c *gin.Context) {
	cs, ok := s.lookupCase(c)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	snapshots, unsubscribe := cs.Subscribe()
	defer unsubscribe()

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
		case <-cs.Done():
			return
		case snap, open := <-snapshots:
			if !open {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(snap); err != nil {
				if !strings.Contains(err.Error(), "use of closed") {
					s.logger.WithError(err).Debug("Telemetry stream write failed")
				}
				return
			}
		}
	}
}

// lookupCase resolves the :id route parameter, writing a 404 on miss.
func (s *Server) lookupCase(c *gin.Context) (*Case, bool) {
	cs, err := s.registry.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return cs, true
}
