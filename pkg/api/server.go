package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/dispatch"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/receipts"
)

// Dispatcher is the subset of *dispatch.Dispatcher the API serves.
type Dispatcher interface {
	Execute(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
	Initialize(ctx context.Context, ref string) error
	Rotate(ctx context.Context, from, to string) error
	VerifierRef(ctx context.Context) (string, error)
	IsNonceUsed(ctx context.Context, signer string, nonce [32]byte) (bool, error)
	Enroll(ctx context.Context, signer string, publicKey []byte) error
}

type Options struct {
	Receipts receipts.Store
	Metrics  HTTPRecorder
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	// AdminSecret is the HS256 key for /v1/admin. Empty disables admin routes.
	AdminSecret    []byte
	RateLimitRPS   float64
	RateLimitBurst int
	// Health reports readiness for /health.
	Health func(ctx context.Context) error
	Logger *slog.Logger
}

type Server struct {
	d       Dispatcher
	opts    Options
	schema  *jsonschema.Schema
	limiter *RateLimiter
	log     *slog.Logger
}

func NewServer(d Dispatcher, opts Options) (*Server, error) {
	schema, err := compileExecuteSchema()
	if err != nil {
		return nil, err
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 20
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 40
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		d:       d,
		opts:    opts,
		schema:  schema,
		limiter: NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		log:     log.With("component", "api"),
	}, nil
}

// Close stops background work. It does not close the dispatcher.
func (s *Server) Close() {
	s.limiter.Stop()
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.Recoverer)
	if s.opts.Metrics != nil {
		r.Use(Instrument(s.opts.Metrics))
	}

	r.Get("/health", s.handleHealth)
	if s.opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Post("/execute", s.handleExecute)
		r.Get("/nonces/{signer}/{nonce}", s.handleNonce)
		r.Get("/verifier", s.handleVerifier)
		r.Get("/receipts", s.handleListReceipts)
		r.Get("/receipts/{id}", s.handleGetReceipt)

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuth(s.opts.AdminSecret))
			r.Post("/initialize", s.handleInitialize)
			r.Post("/rotate", s.handleRotate)
			r.Post("/credentials", s.handleEnroll)
		})
	})
	return r
}
