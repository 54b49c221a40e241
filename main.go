// Command puzzlebot starts the PuzzleBot game server.
//
// It supports two modes:
//  1. "server" (default) – runs the HTTP server exposing REST API, WebSocket, and an /mcp HTTP endpoint
//  2. "stdio-mcp" – runs an MCP stdio server and spins up an internal HTTP API if none is available
//
// Settings come from puzzlebot.yaml and PUZZLEBOT_* environment variables;
// flags override host/port, catalog directory, debug logging and ngrok
// tunneling for easy external access during development.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
	"golang.org/x/sync/errgroup"

	"github.com/wricardo/puzzlebot/accounts"
	"github.com/wricardo/puzzlebot/api"
	"github.com/wricardo/puzzlebot/configs"
	"github.com/wricardo/puzzlebot/game/config"
	"github.com/wricardo/puzzlebot/game/engine"
	"github.com/wricardo/puzzlebot/game/outcome"
	"github.com/wricardo/puzzlebot/game/service"
	"github.com/wricardo/puzzlebot/game/session"
	"github.com/wricardo/puzzlebot/logger"
	"github.com/wricardo/puzzlebot/settings"
	"github.com/wricardo/puzzlebot/store/sqlite"
	"github.com/wricardo/puzzlebot/transport/mcp"
	"github.com/wricardo/puzzlebot/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "PuzzleBot Server"
)

const (
	cleanupInterval = time.Hour
	syncInterval    = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Command line flags override the loaded settings when set.
var (
	settingsFile = flag.String("config", settings.DefaultFile, "Settings YAML file")
	port         = flag.Int("port", 0, "HTTP server port")
	host         = flag.String("host", "", "HTTP server host")
	catalogDir   = flag.String("catalog-dir", "", "Directory containing level_<n>.json catalogs")
	debug        = flag.Bool("debug", false, "Enable debug logging")
	version      = flag.Bool("version", false, "Show version information")
	ngrokEnabled = flag.Bool("ngrok", false, "Enable ngrok tunnel")
	ngrokAuth    = flag.String("ngrok-auth", "", "Ngrok auth token (or use NGROK_AUTHTOKEN env var)")
	ngrokDomain  = flag.String("ngrok-domain", "", "Custom ngrok domain (optional)")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] [MODE]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "%s v%s\n\n", AppName, Version)
		fmt.Fprintf(os.Stderr, "Available modes:\n")
		fmt.Fprintf(os.Stderr, "  server, http     Run HTTP server with API, WebSocket, and MCP endpoint (default)\n")
		fmt.Fprintf(os.Stderr, "  stdio-mcp        Run MCP stdio server with internal HTTP server\n")
		fmt.Fprintf(os.Stderr, "  mcp-stdio, mcp   Aliases for stdio-mcp\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                    # Run HTTP server on default port 8080\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -port 9090         # Run HTTP server on port 9090\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s stdio-mcp          # Run MCP stdio server\n", os.Args[0])
	}
}

// main parses flags, initializes services, and starts the selected mode.
func main() {
	// Load .env file if it exists
	envErr := godotenv.Load()

	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, Version)
		os.Exit(0)
	}

	cfg, err := loadSettings(*settingsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		os.Exit(1)
	}

	logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if envErr == nil {
		log.Info().Msg("loaded environment variables from .env file")
	} else if !errors.Is(envErr, os.ErrNotExist) {
		log.Warn().Err(envErr).Msg("error loading .env file")
	}

	mode := "server"
	if args := flag.Args(); len(args) > 0 {
		mode = args[0]
	}

	log.Info().Str("version", Version).Str("mode", mode).Msgf("starting %s", AppName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize services")
	}
	defer app.close()

	switch mode {
	case "stdio-mcp", "mcp-stdio", "mcp":
		err = app.runStdioMCP(ctx)
	case "server", "http":
		err = app.runHTTPServer(ctx)
	default:
		err = fmt.Errorf("unknown mode %q, use 'server' (default) or 'stdio-mcp'", mode)
	}
	if err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		app.close()
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

// loadSettings layers the command line flags over the settings file
func loadSettings(path string) (*settings.Settings, error) {
	cfg, err := settings.LoadFrom(path)
	if err != nil {
		return nil, err
	}

	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *catalogDir != "" {
		cfg.Game.CatalogDir = *catalogDir
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	if *ngrokEnabled {
		cfg.Ngrok.Enabled = true
	}
	if *ngrokAuth != "" {
		cfg.Ngrok.AuthToken = *ngrokAuth
	}
	if *ngrokDomain != "" {
		cfg.Ngrok.Domain = *ngrokDomain
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds the wired services of one server process
type app struct {
	cfg         *settings.Settings
	catalog     *config.Manager
	store       *sqlite.Store
	progress    *logger.ProgressLog
	accounts    *accounts.Service
	outcomes    *outcome.Dispatcher
	hub         *websocket.Hub
	persistence *session.FilePersistence
	sessions    *session.Manager
	game        service.GameService
	cancelRuns  context.CancelFunc
	closed      bool
}

// newApp wires catalog, storage, accounts, the outcome pipeline, sessions
// and the game service.
func newApp(ctx context.Context, cfg *settings.Settings) (*app, error) {
	a := &app{cfg: cfg, hub: websocket.NewHub()}

	catalog, err := loadCatalog(cfg.Game.CatalogDir)
	if err != nil {
		return nil, err
	}
	a.catalog = catalog

	a.store, err = sqlite.Open(ctx, cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a.progress, err = logger.NewProgressLog(cfg.Storage.ProgressLog)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open progress log: %w", err)
	}

	secret, err := jwtSecret(cfg.Auth.JWTSecret, rand.Reader)
	if err != nil {
		a.close()
		return nil, err
	}

	a.accounts, err = accounts.NewService(a.store, accounts.NewTokenIssuer(secret, cfg.Auth.TokenTTL),
		cfg.Reports.CacheSize,
		accounts.WithProgressLog(a.progress),
		accounts.WithReportTTL(cfg.Reports.CacheTTL),
	)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create account service: %w", err)
	}

	a.outcomes = outcome.NewDispatcher(outcome.Sinks(
		outcome.SinkFunc(logOutcome),
		a.accounts,
	))

	a.persistence, err = session.NewFilePersistence(cfg.Storage.SessionsDir)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create session persistence: %w", err)
	}

	a.sessions = session.NewManagerWithPersistence(a.persistence, catalog,
		session.WithEngineOptions(
			engine.WithRecorder(a.outcomes),
			engine.WithStepDelay(cfg.Game.StepDelay),
		),
		session.WithObserver(a.hub.BroadcastState),
	)
	if err := a.sessions.LoadPersistedSessions(); err != nil {
		log.Warn().Err(err).Msg("failed to load persisted sessions")
	}

	// Runs outlive the request that started them and stop on shutdown
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancelRuns = cancel
	a.game = service.NewGameService(a.sessions, catalog, service.WithRunContext(runCtx))

	return a, nil
}

// loadCatalog reads the catalog directory, falling back to the catalogs
// compiled into the binary. A catalog that fails validation is fatal.
func loadCatalog(dir string) (*config.Manager, error) {
	catalog, err := config.NewManager(dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("using bundled puzzle catalog")
		catalog = config.NewManagerFS(configs.FS)
	}
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid puzzle catalog: %w", err)
	}
	return catalog, nil
}

// jwtSecret returns the configured secret or a random per-process one
// drawn from random
func jwtSecret(configured string, random io.Reader) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	log.Warn().Msg("no JWT secret configured, tokens will not survive a restart (set PUZZLEBOT_JWT_SECRET)")
	secret := make([]byte, 32)
	if _, err := io.ReadFull(random, secret); err != nil {
		return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	return secret, nil
}

func logOutcome(ctx context.Context, o engine.Outcome) error {
	log.Info().
		Str("subject_id", o.SubjectID).
		Int("puzzle_id", o.PuzzleID).
		Bool("success", o.Success).
		Int("score", o.Score).
		Int("attempts", o.Attempts).
		Msg("attempt finished")
	return nil
}

// close stops runs and releases every resource. It is safe to call twice.
func (a *app) close() {
	if a.closed {
		return
	}
	a.closed = true

	if a.cancelRuns != nil {
		a.cancelRuns()
	}
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to save sessions")
		}
	}
	if a.outcomes != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.outcomes.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("outcomes not fully delivered")
		}
		cancel()
	}
	if a.accounts != nil {
		a.accounts.Close()
	}
	if a.progress != nil {
		a.progress.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// apiServer builds the REST API with accounts enabled
func (a *app) apiServer() *api.Server {
	return api.NewServer(a.game, a.hub, api.WithAccounts(a.accounts))
}

// handler combines the REST API and the /mcp endpoint
func (a *app) handler(mcpClient *mcp.Client) http.Handler {
	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", a.apiServer())
	mainRouter.HandleFunc("/mcp", mcpHandler(mcpClient))
	return mainRouter
}

// mcpHandler answers one JSON-RPC message per POST
func mcpHandler(mcpClient *mcp.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// runHTTPServer serves REST API, WebSocket hub and /mcp until ctx is done.
// If ngrok is enabled it also provisions a public tunnel.
func (a *app) runHTTPServer(ctx context.Context) error {
	addr := a.cfg.Addr()
	localAddr := addr
	if a.cfg.Server.Host == "" {
		localAddr = fmt.Sprintf("localhost:%d", a.cfg.Server.Port)
	}
	handler := a.handler(mcp.NewClient("http://" + localAddr))

	httpServer := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// Runs with ?wait=true hold the response for the whole program
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})

	g.Go(func() error {
		log.Info().
			Str("addr", addr).
			Str("api", "http://"+localAddr+"/api").
			Str("websocket", "ws://"+localAddr+"/ws?session=<session_id>").
			Str("mcp", "http://"+localAddr+"/mcp").
			Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		a.maintainSessions(ctx)
		return nil
	})

	if a.cfg.Ngrok.Enabled {
		g.Go(func() error {
			return a.runNgrok(ctx, handler)
		})
	}

	return g.Wait()
}

// runNgrok serves handler through an ngrok tunnel until ctx is done.
// Tunnel failures are logged and never stop the local server.
func (a *app) runNgrok(ctx context.Context, handler http.Handler) error {
	if a.cfg.Ngrok.AuthToken == "" {
		log.Warn().Msg("ngrok enabled but no auth token provided (use --ngrok-auth or NGROK_AUTHTOKEN)")
		return nil
	}

	var tunnel ngrokConfig.Tunnel
	if a.cfg.Ngrok.Domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(a.cfg.Ngrok.Domain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	log.Info().Str("domain", a.cfg.Ngrok.Domain).Msg("starting ngrok tunnel")
	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(a.cfg.Ngrok.AuthToken))
	if err != nil {
		log.Error().Err(err).Msg("failed to start ngrok tunnel")
		return nil
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close ngrok tunnel")
		}
	}()

	ngrokURL := tun.URL()
	log.Info().
		Str("url", ngrokURL).
		Str("api", ngrokURL+"/api").
		Str("mcp", ngrokURL+"/mcp").
		Msg("ngrok tunnel established")

	if err := http.Serve(tun, handler); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Msg("ngrok server error")
	}
	log.Info().Msg("ngrok tunnel closed")
	return nil
}

// maintainSessions prunes expired sessions and sessions whose files were
// deleted from disk until ctx is done.
func (a *app) maintainSessions(ctx context.Context) {
	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()
	fsSync := time.NewTicker(syncInterval)
	defer fsSync.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.C:
			if removed := a.sessions.CleanupExpiredSessions(a.cfg.Game.SessionMaxAge); removed > 0 {
				log.Info().Int("removed", removed).Msg("cleaned up expired sessions")
			}
		case <-fsSync.C:
			a.pruneOrphanedSessions()
		}
	}
}

// pruneOrphanedSessions drops sessions whose persisted file was deleted
func (a *app) pruneOrphanedSessions() int {
	pruned := 0
	for _, s := range a.sessions.List() {
		if a.persistence.Exists(s.ID) {
			continue
		}
		if err := a.sessions.DeleteFromMemory(s.ID); err == nil {
			pruned++
			log.Debug().Str("session_id", s.ID).Msg("pruned session from memory (file deleted)")
		}
	}
	if pruned > 0 {
		log.Info().Int("pruned", pruned).Msg("filesystem sync pruned orphaned sessions")
	}
	return pruned
}

// runStdioMCP runs an MCP stdio server.
// It reuses an external API at the configured port when one answers;
// otherwise it starts an internal HTTP API on a random loopback port.
func (a *app) runStdioMCP(ctx context.Context) error {
	externalURL := fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)
	baseURL := externalURL

	if !apiAvailable(externalURL) {
		log.Info().Msg("no external API server found, starting internal HTTP server")

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		baseURL = "http://" + listener.Addr().String()

		go a.hub.Run(ctx)
		httpServer := &http.Server{Handler: a.apiServer()}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("internal HTTP server error")
			}
		}()
		defer httpServer.Close()
	} else {
		log.Info().Str("url", externalURL).Msg("external API server found, using it for MCP")
	}

	log.Info().Str("api", baseURL).Msg("MCP stdio server ready")
	return server.ServeStdio(mcp.NewClient(baseURL).GetMCPServer())
}

// apiAvailable reports whether a PuzzleBot API answers at baseURL
func apiAvailable(baseURL string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
