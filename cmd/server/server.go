package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/donantes/edge/api"
	"github.com/donantes/edge/authretry"
	"github.com/donantes/edge/bridge"
	"github.com/donantes/edge/config"
	"github.com/donantes/edge/gateway"
	"github.com/donantes/edge/helper"
	edgehttp "github.com/donantes/edge/http"
	"github.com/donantes/edge/identity"
	log "github.com/donantes/edge/logger"
	"github.com/donantes/edge/physical"
	fileStorage "github.com/donantes/edge/physical/file"
	inmemStorage "github.com/donantes/edge/physical/inmem"
	"github.com/donantes/edge/token"
)

const (
	EnvEdgeBuildID       = "EDGE_BUILD_ID"
	EnvEdgeIdentityURL   = "EDGE_IDENTITY_URL"
	EnvEdgeIdentityKey   = "EDGE_IDENTITY_KEY"
	EnvEdgeAppOrigin     = "EDGE_APP_ORIGIN"
	defaultListenAddress = "127.0.0.1:8675"
)

var (
	configPath string
	flagDev    bool

	ServerCmd = &cobra.Command{
		Use:   "server",
		Short: "Start the edge agent that serves the Donantes client",
		Long: `
Usage: edged server [options]

  Starts the local agent. With a configuration file:

      $ edged server --config=/etc/donantes/edge.hcl

  With --dev, configuration is read from the environment (and .env), and
  all state is kept in memory.
`,
		RunE: run,
	}

	storageBackends = map[string]physical.Factory{
		"inmem": inmemStorage.NewInmem,
		"file":  fileStorage.NewFileBackend,
	}
)

func init() {
	ServerCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (e.g., path/to/edge.hcl)")
	ServerCmd.Flags().BoolVar(&flagDev, "dev", false, "Run in dev mode with in-memory storage")
}

func run(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}

	logger := buildLogger(conf)
	defer logger.Close()

	// Per-boot identifier so interleaved log streams from restarts can
	// be told apart.
	logger.Info("starting edge agent",
		log.String("instance", helper.GenerateRandomString(8)))

	// Session-scoped storage never survives the process; auth-block
	// purges sweep it alongside the persistent store.
	sessionStorage, err := inmemStorage.NewInmem(nil, logger.WithSubsystem("storage.session"))
	if err != nil {
		return err
	}

	persistentStorage, err := buildStorage(conf, logger)
	if err != nil {
		return err
	}

	tokenStore, err := token.NewStore(persistentStorage, logger.WithSubsystem("token"))
	if err != nil {
		return err
	}
	defer tokenStore.Close()

	provider, err := identity.NewClient(&identity.Config{
		BaseURL: conf.Identity.BaseURL,
		APIKey:  conf.Identity.APIKey,
	}, logger.WithSubsystem("identity"))
	if err != nil {
		return err
	}

	backendConf := api.DefaultConfig()
	backendConf.Address = conf.Backend.Address
	if conf.Backend.MaxRetries > 0 {
		backendConf.MaxRetries = conf.Backend.MaxRetries
	}
	if conf.Backend.RateLimit > 0 {
		backendConf.Limiter = rate.NewLimiter(rate.Limit(conf.Backend.RateLimit), conf.Backend.RateLimit)
	}
	backend, err := api.NewClient(backendConf)
	if err != nil {
		return err
	}

	coordinator := authretry.NewCoordinator(authretry.DefaultRetryConfig(), nil,
		logger.WithSubsystem("authretry"))

	tokenBridge, err := bridge.New(bridge.Config{
		Provider: provider,
		Backend:  backend,
		Store:    tokenStore,
		Retry:    coordinator,
		OnAvailability: func(available bool) {
			logger.Debug("token availability changed", log.Bool("available", available))
		},
	}, logger.WithSubsystem("bridge"))
	if err != nil {
		return err
	}
	backend.SetTokenSource(tokenBridge.TokenSource())

	staticCache := gateway.NewStaticCache(persistentStorage, logger.WithSubsystem("cache.static"))
	manager, err := gateway.NewManager(gateway.Config{
		BuildID:      buildID(),
		BaseURL:      conf.Cache.BaseURL,
		Manifest:     conf.Cache.Manifest,
		OfflineShell: conf.Cache.OfflineShell,
		Rules: gateway.Rules{
			NetworkFirstHosts: conf.Cache.NetworkFirstHosts,
			APIPathPrefixes:   apiPrefixes(conf),
		},
		Runtime: gateway.RuntimeCacheConfig{TTL: conf.Cache.RuntimeTTL()},
	}, staticCache, logger.WithSubsystem("cache"))
	if err != nil {
		return err
	}
	defer manager.Close()

	logger.Info("cache manager ready",
		log.String("generation", manager.Generation()),
		log.String("runtime_ttl", helper.FormatTTL(int64(conf.Cache.RuntimeTTL()))))

	ctx := cmd.Context()

	if err := manager.Install(ctx); err != nil {
		if !errors.Is(err, gateway.ErrCacheInstallFailed) {
			return err
		}
		logger.Error("cache install failed", log.Err(err))
		adopted, adoptErr := manager.AdoptPrevious(ctx)
		if adoptErr != nil {
			return adoptErr
		}
		if !adopted {
			logger.Warn("no previous cache generation; serving without precache")
		}
	} else {
		if err := manager.Activate(ctx); err != nil {
			return err
		}
	}

	handler := edgehttp.Handler(&edgehttp.HandlerProperties{
		Bridge:    tokenBridge,
		Transport: gateway.NewTransport(manager),
		Manager:   manager,
		Retry:     coordinator,
		Blocks: authretry.Blocks{
			Session:    sessionStorage,
			Persistent: persistentStorage,
		},
		BaseURL: conf.Cache.BaseURL,
		Logger:  logger.WithSubsystem("http"),
	})

	address := defaultListenAddress
	if listener, err := conf.GetAPIListener(); err == nil {
		address = listener.Address
	}

	srv := &http.Server{
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("edge agent listening", log.String("address", address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", log.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadConfig reads the HCL file, or synthesizes a dev configuration from
// the environment.
func loadConfig() (*config.Config, error) {
	if flagDev {
		// Best effort; a missing .env just means plain environment vars.
		_ = godotenv.Load()
		return devConfig(), nil
	}
	if configPath == "" {
		return nil, errors.New("either --config or --dev must be provided")
	}

	conf, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if conf.Identity == nil || conf.Backend == nil || conf.Cache == nil {
		return nil, errors.New("configuration requires identity, backend, and cache blocks")
	}
	if conf.Storage == nil {
		conf.Storage = &config.StorageBlock{Type: "inmem"}
	}
	return conf, nil
}

func devConfig() *config.Config {
	return &config.Config{
		LogLevel: "debug",
		Storage:  &config.StorageBlock{Type: "inmem"},
		Identity: &config.IdentityBlock{
			BaseURL: os.Getenv(EnvEdgeIdentityURL),
			APIKey:  os.Getenv(EnvEdgeIdentityKey),
		},
		Backend: &config.BackendBlock{
			Address: os.Getenv(api.EnvEdgeBackendAddr),
		},
		Cache: &config.CacheBlock{
			BaseURL: os.Getenv(EnvEdgeAppOrigin),
		},
	}
}

func buildLogger(conf *config.Config) log.Logger {
	logConf := &log.Config{
		Level:   log.ParseLogLevel(conf.LogLevel),
		Format:  log.ParseOutputFormat(conf.LogFormat),
		Outputs: []io.Writer{os.Stdout},
	}
	if conf.LogFile != "" {
		logConf.FileConfig = &log.FileConfig{
			Filename:   conf.LogFile,
			MaxSize:    conf.LogRotateMegabytes,
			MaxBackups: conf.LogRotateMaxFiles,
		}
	}
	return log.NewZerologLogger(logConf)
}

func buildStorage(conf *config.Config, logger log.Logger) (physical.Storage, error) {
	factory, ok := storageBackends[conf.Storage.Type]
	if !ok {
		return nil, errors.New("unknown storage type: " + conf.Storage.Type)
	}
	return factory(conf.Storage.Config(), logger.WithSubsystem("storage"))
}

func buildID() string {
	if id := os.Getenv(EnvEdgeBuildID); id != "" {
		return id
	}
	return helper.GenerateBuildID()
}

func apiPrefixes(conf *config.Config) []string {
	if len(conf.Cache.APIPathPrefixes) > 0 {
		return conf.Cache.APIPathPrefixes
	}
	return gateway.DefaultRules().APIPathPrefixes
}
