// Package rpc exposes the coordinator's HTTP/WebSocket surface: agent
// enrolment and work-pulling, task submission, mesh peering, security
// reporting, economy operations and the admin plane.
package rpc

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/enclavecode/swarm/coordinator/auth"
	"github.com/enclavecode/swarm/coordinator/blacklist"
	"github.com/enclavecode/swarm/coordinator/db"
	"github.com/enclavecode/swarm/coordinator/economy"
	"github.com/enclavecode/swarm/coordinator/ledger"
	"github.com/enclavecode/swarm/coordinator/mesh"
	"github.com/enclavecode/swarm/coordinator/pipeline"
	"github.com/enclavecode/swarm/coordinator/registry"
)

var log = logrus.WithField("prefix", "rpc")

// Config options for the RPC service.
type Config struct {
	Address        string
	AllowedOrigins []string

	TokenGate *auth.TokenGate
	Verifier  *auth.Verifier

	Database  db.Database
	Registry  *registry.Service
	Pipeline  *pipeline.Service
	Blacklist *blacklist.Service
	Ledger    *ledger.Service
	Economy   *economy.Service
	Mesh      *mesh.Service
}

// Service is the HTTP server fronting all coordinator components.
type Service struct {
	ctx          context.Context
	cancel       context.CancelFunc
	cfg          *Config
	router       *mux.Router
	server       *http.Server
	startFailure error
}

// NewService wires the route table. Callers still need Start to bind the
// listener.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg.TokenGate == nil || cfg.Verifier == nil {
		return nil, errors.New("rpc requires a token gate and a request verifier")
	}
	if cfg.Database == nil || cfg.Registry == nil || cfg.Pipeline == nil ||
		cfg.Blacklist == nil || cfg.Ledger == nil || cfg.Economy == nil || cfg.Mesh == nil {
		return nil, errors.New("rpc requires every coordinator component wired")
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Service{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		router: mux.NewRouter(),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Service) registerRoutes() {
	r := s.router

	// Agent plane. Enrolment is authenticated by its registration token;
	// everything after it is signed with the enrolled key.
	r.HandleFunc("/enroll", s.meshOnly(s.handleEnroll)).Methods(http.MethodPost)
	r.HandleFunc("/heartbeat", s.signed(s.handleHeartbeat)).Methods(http.MethodPost)
	r.HandleFunc("/pull", s.signed(s.handlePull)).Methods(http.MethodPost)
	r.HandleFunc("/pull/ack", s.signed(s.handlePullAck)).Methods(http.MethodPost)
	r.HandleFunc("/progress", s.signed(s.handleProgress)).Methods(http.MethodPost)
	r.HandleFunc("/result", s.signed(s.handleResult)).Methods(http.MethodPost)

	// Task plane.
	r.HandleFunc("/submit", s.meshOnly(s.handleSubmit)).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}", s.meshOnly(s.handleTask)).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}/cancel", s.meshOnly(s.handleCancel)).Methods(http.MethodPost)
	r.HandleFunc("/status", s.meshOnly(s.handleStatus)).Methods(http.MethodGet)

	// Mesh plane.
	r.HandleFunc("/mesh/peers", s.meshOnly(s.handleMeshPeers)).Methods(http.MethodGet)
	r.HandleFunc("/mesh/hello", s.meshOnly(s.handleMeshHello)).Methods(http.MethodPost)
	r.HandleFunc("/mesh/ws", s.meshOnly(s.handleMeshWS)).Methods(http.MethodGet)
	r.HandleFunc("/mesh/checkpoints", s.meshOnly(s.handleCheckpoints)).Methods(http.MethodGet)

	// Security plane.
	r.HandleFunc("/security/blacklist", s.meshOnly(s.handleBlacklistSubmit)).Methods(http.MethodPost)
	r.HandleFunc("/security/blacklist", s.meshOnly(s.handleBlacklistDelta)).Methods(http.MethodGet)

	// Economy plane.
	r.HandleFunc("/economy/price/current", s.meshOnly(s.handlePriceCurrent)).Methods(http.MethodGet)
	r.HandleFunc("/economy/price/propose", s.meshOnly(s.handlePricePropose)).Methods(http.MethodPost)
	r.HandleFunc("/economy/price/consensus", s.meshOnly(s.handlePriceConsensus)).Methods(http.MethodPost)
	r.HandleFunc("/economy/payments/intents", s.meshOnly(s.handleIntentCreate)).Methods(http.MethodPost)
	r.HandleFunc("/economy/payments/intents/{id}", s.meshOnly(s.handleIntentGet)).Methods(http.MethodGet)
	r.HandleFunc("/economy/payments/intents/{id}/confirm", s.meshOnly(s.handleIntentConfirm)).Methods(http.MethodPost)
	r.HandleFunc("/economy/payments/reconcile", s.meshOnly(s.handleReconcile)).Methods(http.MethodPost)
	r.HandleFunc("/economy/treasury/policies", s.admin(s.handleTreasuryCreate)).Methods(http.MethodPost)
	r.HandleFunc("/economy/treasury/policies/{id}/activate", s.admin(s.handleTreasuryActivate)).Methods(http.MethodPost)
	r.HandleFunc("/economy/treasury/policies/{id}/retire", s.admin(s.handleTreasuryRetire)).Methods(http.MethodPost)
	r.HandleFunc("/economy/treasury", s.meshOnly(s.handleTreasuryList)).Methods(http.MethodGet)

	// Admin plane.
	r.HandleFunc("/admin/agents", s.admin(s.handleAgentList)).Methods(http.MethodGet)
	r.HandleFunc("/admin/agents/{id}/approve", s.admin(s.handleAgentApprove)).Methods(http.MethodPost)
	r.HandleFunc("/admin/agents/{id}/suspend", s.admin(s.handleAgentSuspend)).Methods(http.MethodPost)
	r.HandleFunc("/admin/agents/{id}/reject", s.admin(s.handleAgentReject)).Methods(http.MethodPost)
	r.HandleFunc("/admin/agents/{id}/mode", s.admin(s.handleAgentMode)).Methods(http.MethodPost)
	r.HandleFunc("/admin/agents/{id}/model", s.admin(s.handleAgentModel)).Methods(http.MethodPost)
	r.HandleFunc("/admin/rollouts", s.admin(s.handleRolloutCreate)).Methods(http.MethodPost)
	r.HandleFunc("/admin/rollouts", s.admin(s.handleRolloutList)).Methods(http.MethodGet)
	r.HandleFunc("/admin/rollouts/{id}/promote", s.admin(s.handleRolloutPromote)).Methods(http.MethodPost)
	r.HandleFunc("/admin/rollouts/{id}/rollback", s.admin(s.handleRolloutRollback)).Methods(http.MethodPost)
	r.HandleFunc("/db/backup", s.admin(s.handleBackup)).Methods(http.MethodPost)
}

// Router returns the assembled route table, mostly for tests.
func (s *Service) Router() *mux.Router {
	return s.router
}

// Start binds the listener and serves until Stop.
func (s *Service) Start() {
	handler := s.corsMiddleware(s.router)
	s.server = &http.Server{
		Addr:    s.cfg.Address,
		Handler: handler,
	}
	go func() {
		log.WithField("address", s.cfg.Address).Info("Serving coordinator API")
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("Failed to serve coordinator API")
			s.startFailure = err
		}
	}()
}

// Stop shuts the server down gracefully, draining in-flight requests.
func (s *Service) Stop() error {
	defer s.cancel()
	if s.server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(s.ctx, 2*time.Second)
		defer shutdownCancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				log.Warn("Existing connections terminated")
			} else {
				return err
			}
		}
	}
	return nil
}

// Status reports an error when the listener failed to start.
func (s *Service) Status() error {
	return s.startFailure
}

func (s *Service) corsMiddleware(h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodPost, http.MethodGet, http.MethodOptions},
		AllowCredentials: true,
		MaxAge:           600,
		AllowedHeaders:   []string{"*"},
	})
	return c.Handler(h)
}
