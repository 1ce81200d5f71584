// Package rpc exposes the ceremony coordinator's HTTP surface: ceremony
// management, participant state transitions, storage session handling and
// contribution verification.
package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/mux"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/blobstore"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/lifecycle"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/scheduler"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/upload"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/verify"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/worker"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "rpc")

// Config options for the HTTP service.
type Config struct {
	Host          string
	Port          int
	JWTSecret     []byte
	Database      db.Database
	Blobs         blobstore.BlobStore
	Worker        worker.VerificationWorker
	Verifier      *verify.Service
	Lifecycle     *lifecycle.Service
	Uploads       *upload.Manager
	Scheduler     *scheduler.Service
	NudgeFeed     *event.Feed
	PresignTTL    time.Duration
	BucketPostfix string
	Software      types.VerificationSoftware
}

// Service defines the coordinator's HTTP API server.
type Service struct {
	cfg          *Config
	ctx          context.Context
	cancel       context.CancelFunc
	router       *mux.Router
	server       *http.Server
	startFailure error
}

// NewService builds the HTTP service and registers every route.
func NewService(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	s := &Service{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		router: mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

func (s *Service) registerRoutes() {
	r := s.router
	r.HandleFunc("/ceremonies", s.listCeremonies).Methods(http.MethodGet)
	r.HandleFunc("/ceremonies/opened", s.listOpenedCeremonies).Methods(http.MethodGet)
	r.HandleFunc("/ceremonies/create", s.withAuth(s.createCeremony)).Methods(http.MethodPost)
	r.HandleFunc("/ceremonies/create-circuits", s.withAuth(s.createCircuits)).Methods(http.MethodPost)
	r.HandleFunc("/ceremonies/finalize", s.withAuth(s.finalizeCeremony)).Methods(http.MethodPost)

	r.HandleFunc("/participants/check", s.withAuth(s.checkParticipant)).Methods(http.MethodGet)
	r.HandleFunc("/participants/progress-to-next-circuit", s.withAuth(s.progressToNextCircuit)).Methods(http.MethodGet)
	r.HandleFunc("/participants/progress-to-next-step", s.withAuth(s.progressToNextStep)).Methods(http.MethodGet)
	r.HandleFunc("/participants/resume-after-timeout", s.withAuth(s.resumeAfterTimeout)).Methods(http.MethodGet)
	r.HandleFunc("/participants/store-contribution-hash", s.withAuth(s.storeContributionHash)).Methods(http.MethodPost)

	r.HandleFunc("/storage/start-multipart", s.withAuth(s.startMultipart)).Methods(http.MethodPost)
	r.HandleFunc("/storage/presign-parts", s.withAuth(s.presignParts)).Methods(http.MethodPost)
	r.HandleFunc("/storage/record-chunk", s.withAuth(s.recordChunk)).Methods(http.MethodPost)
	r.HandleFunc("/storage/complete-multipart", s.withAuth(s.completeMultipart)).Methods(http.MethodPost)
	r.HandleFunc("/storage/presign-get", s.withAuth(s.presignGet)).Methods(http.MethodPost)

	r.HandleFunc("/circuits/verify-contribution", s.withAuth(s.verifyContribution)).Methods(http.MethodPost)
	r.HandleFunc("/circuits/finalize", s.withAuth(s.finalizeCircuit)).Methods(http.MethodPost)
	r.HandleFunc("/circuits/current-contributor", s.currentContributor).Methods(http.MethodGet)
}

// Router exposes the configured routes, mainly for tests.
func (s *Service) Router() *mux.Router {
	return s.router
}

// Start launches the HTTP server.
func (s *Service) Start() {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.WithField("address", addr).Info("Starting ceremony API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.startFailure = err
		log.WithError(err).Error("Could not serve HTTP")
	}
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Service) Stop() error {
	s.cancel()
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
	return nil
}

// Status reports a listen failure, if any occurred.
func (s *Service) Status() error {
	return s.startFailure
}

// nudge wakes the scheduler after a participant-visible state change.
func (s *Service) nudge(ceremonyID int64) {
	if s.cfg.NudgeFeed != nil {
		s.cfg.NudgeFeed.Send(ceremonyID)
	}
}
