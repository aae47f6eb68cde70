package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/davidahmann/paybound/internal/api"
	"github.com/davidahmann/paybound/internal/config"
	"github.com/davidahmann/paybound/internal/ledger"
	"github.com/davidahmann/paybound/internal/ledger/pgstore"
	"github.com/davidahmann/paybound/internal/ledger/sqlstore"
	"github.com/davidahmann/paybound/internal/policy"
)

func main() {
	_ = godotenv.Load()
	if err := runFn(os.Args[1:], os.Getenv, listenAndServe); err != nil {
		fmt.Fprintf(os.Stderr, "paybound-gateway: %v\n", err)
		exitFn(1)
	}
}

var (
	runFn     = run
	exitFn    = os.Exit
	newLogger = func() (*zap.Logger, error) { return zap.NewProduction() }
)

type envFn func(string) string
type listenFn func(*http.Server) error

func run(args []string, getenv envFn, listen listenFn) error {
	fs := flag.NewFlagSet("paybound-gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to paybound config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile := *configPath
	if cfgFile == "" {
		cfgFile = getenv("PAYBOUND_CONFIG_PATH")
	}

	var cfg config.Config
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	addr := firstNonEmpty(getenv("PAYBOUND_LISTEN_ADDR"), portAddr(getenv("PAYBOUND_PORT")), cfg.ListenAddr, config.DefaultListenAddr)
	policyPath := firstNonEmpty(getenv("PAYBOUND_POLICY_FILE"), cfg.PolicyPath)
	upstream := firstNonEmpty(getenv("PAYBOUND_UPSTREAM"), cfg.Upstream, config.DefaultUpstream)
	driver := firstNonEmpty(getenv("PAYBOUND_DB_DRIVER"), cfg.DB.Driver, config.DefaultDBDriver)
	dsn := firstNonEmpty(getenv("PAYBOUND_DB"), cfg.DB.DSN, config.DefaultDBDSN)

	timeout := cfg.UpstreamTimeout
	if v := getenv("PAYBOUND_UPSTREAM_TIMEOUT"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse PAYBOUND_UPSTREAM_TIMEOUT: %w", err)
		}
		timeout = parsed
	}

	store, err := openStore(driver, dsn)
	if err != nil {
		return fmt.Errorf("open ledger (%s): %w", driver, err)
	}
	defer func() { _ = store.Close() }()

	source := loadPolicySource(policyPath, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if policyPath != "" {
		watcher, err := policy.NewWatcher(source, policyPath, logger)
		if err != nil {
			logger.Warn("policy hot reload disabled", zap.Error(err))
		} else {
			go func() { _ = watcher.Run(ctx) }()
		}
	}

	h := &api.Handler{
		Logger:    logger,
		Policies:  source,
		Evaluator: policy.NewEvaluator(),
		Ledger:    store,
		Forwarder: api.NewForwarder(upstream, timeout),
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("paybound gateway listening",
		zap.String("addr", addr),
		zap.String("upstream", upstream),
		zap.String("db", driver),
		zap.Int("policies", source.Len()))
	if err := listen(server); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// loadPolicySource loads the policy file, falling back to an empty table
// (default policy for every agent) when no file is configured or the file is
// malformed. A load failure is reported once here, not per request.
func loadPolicySource(policyPath string, logger *zap.Logger) *policy.Source {
	if policyPath == "" {
		logger.Info("no policy file configured, default policy applies to all agents")
		return policy.EmptySource()
	}

	loaded, err := policy.Load(policyPath)
	if err != nil {
		logger.Error("policy load failed, enforcing default policy for all agents",
			zap.String("path", policyPath), zap.Error(err))
		// Keep the path so a corrected file can still hot-reload in.
		return policy.NewSource(policy.LoadedTable{Table: policy.Table{}, Path: policyPath})
	}

	logger.Info("policies loaded",
		zap.String("path", policyPath),
		zap.Int("policies", len(loaded.Table)),
		zap.String("hash", loaded.Hash))
	return policy.NewSource(loaded)
}

func openStore(driver string, dsn string) (ledger.Store, error) {
	switch driver {
	case "sqlite":
		s, err := sqlstore.OpenSQLite(dsn)
		if err != nil {
			return nil, err
		}
		if err := ledger.Migrate(s.DB(), ledger.DBSQLite); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := pgstore.OpenPostgres(dsn)
		if err != nil {
			return nil, err
		}
		if err := ledger.Migrate(s.DB(), ledger.DBPostgres); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case "memory":
		return ledger.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", driver)
	}
}

func listenAndServe(server *http.Server) error {
	return server.ListenAndServe()
}

func portAddr(port string) string {
	if port == "" {
		return ""
	}
	return ":" + port
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
