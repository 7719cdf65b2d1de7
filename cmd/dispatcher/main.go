package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/api"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/config"
)

const version = "v0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stdout, stderr)
	}

	switch args[1] {
	case "server", "serve":
		return startServer(stdout, stderr)
	case "init":
		return runInitCmd(args[2:], stdout, stderr)
	case "enroll":
		return runEnrollCmd(args[2:], stdout, stderr)
	case "encode":
		return runEncodeCmd(args[2:], stdout, stderr)
	case "inspect":
		return runInspectCmd(args[2:], stdout, stderr)
	case "nonce":
		return runNonceCmd(args[2:], stdout, stderr)
	case "sign":
		return runSignCmd(args[2:], stdout, stderr)
	case "token":
		return runTokenCmd(args[2:], stdout, stderr)
	case "artifact":
		return runArtifactCmd(args[2:], stdout, stderr)
	case "audit":
		return runAuditCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return startServer(stdout, stderr)
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sGeoLink Dispatcher %s%s\n", ColorBold+ColorBlue, version, ColorReset)
	fmt.Fprintf(w, "%sPasskey-signed intents, replay-safe dispatch.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  dispatcher <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "SERVER")
	printCommand(w, "serve", "Run the dispatcher (default)")
	printCommand(w, "health", "Check server health (HTTP)")
	printCommand(w, "init", "Store the verifier reference (init <ref>)")
	printCommand(w, "enroll", "Bind a passkey public key to a signer (enroll <signer> <hex>)")
	printCommand(w, "nonce", "Report whether a nonce is consumed (nonce <signer> <hex>)")

	printSection(w, "INTENTS")
	printCommand(w, "encode", "Print the canonical encoding and challenge of intent JSON")
	printCommand(w, "inspect", "Decode a hex encoding back to intent JSON")
	printCommand(w, "sign", "Sign intent JSON with a development passkey")

	printSection(w, "OPERATIONS")
	printCommand(w, "token", "Issue an admin JWT from ADMIN_JWT_SECRET")
	printCommand(w, "artifact", "Store a file in the artifact store (artifact put <file>)")
	printCommand(w, "audit", "Verify the receipt chain")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-10s%s %s\n", ColorGreen, name, ColorReset, desc)
}

func runServer(stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "%sGeoLink Dispatcher starting...%s\n", ColorBold+ColorBlue, ColorReset)
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 2
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Close(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()
	fmt.Fprintf(stdout, "🔑 Receipt key: %s%s%s\n", ColorBold+ColorGreen, rt.receiptKey.PublicKey(), ColorReset)

	srv, err := api.NewServer(rt.dispatcher, api.Options{
		Receipts:       rt.receipts,
		Metrics:        rt.metrics,
		MetricsHandler: rt.metrics.Handler(),
		AdminSecret:    []byte(cfg.AdminJWTSecret),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Health:         rt.Health,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("api init failed", "error", err)
		return 1
	}
	defer srv.Close()
	if cfg.AdminJWTSecret == "" {
		log.Println("[dispatcher] admin routes disabled: ADMIN_JWT_SECRET not set")
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := rt.Health(r.Context()); err != nil {
			http.Error(w, "UNAVAILABLE", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	servers := []*http.Server{
		{Addr: net.JoinHostPort("", cfg.Port), Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second},
		{Addr: net.JoinHostPort("", cfg.HealthPort), Handler: healthMux, ReadHeaderTimeout: 5 * time.Second},
	}
	errCh := make(chan error, len(servers))
	for _, s := range servers {
		go func(s *http.Server) {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s: %w", s.Addr, err)
			}
		}(s)
	}
	log.Printf("[dispatcher] health server: :%s", cfg.HealthPort)
	log.Printf("[dispatcher] ready: http://localhost:%s", cfg.Port)
	log.Println("[dispatcher] press ctrl+c to stop")

	code := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		code = 1
	}
	log.Println("[dispatcher] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range servers {
		_ = s.Shutdown(shutdownCtx)
	}
	return code
}

func runHealthCmd(out, errOut io.Writer) int {
	port := config.Load().HealthPort
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost:" + port + "/health")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(out, "OK")
	return 0
}
