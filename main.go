package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/xiaot623/gogo/dbchat/internal/adapter/llm"
	"github.com/xiaot623/gogo/dbchat/internal/adapter/querydb"
	"github.com/xiaot623/gogo/dbchat/internal/config"
	"github.com/xiaot623/gogo/dbchat/internal/history"
	"github.com/xiaot623/gogo/dbchat/internal/metrics"
	"github.com/xiaot623/gogo/dbchat/internal/orchestrator"
	"github.com/xiaot623/gogo/dbchat/internal/repository"
	"github.com/xiaot623/gogo/dbchat/internal/service"
	"github.com/xiaot623/gogo/dbchat/internal/sessionlock"
	"github.com/xiaot623/gogo/dbchat/internal/tools"
	handler "github.com/xiaot623/gogo/dbchat/internal/transport/http"
	"github.com/xiaot623/gogo/dbchat/internal/transport/rpc"
	"github.com/xiaot623/gogo/dbchat/policy"
)

// options are the command line flags. They override the config file and
// environment.
type options struct {
	Config   string `short:"c" long:"config" description:"YAML config file path"`
	HTTPPort int    `long:"http-port" description:"HTTP listen port"`
	RPCPort  int    `long:"rpc-port" description:"JSON-RPC listen port (0 disables)"`
	Mock     bool   `long:"mock" description:"use the mock model gateway"`
	LogLevel string `long:"log-level" description:"trace, debug, info, warn or error"`
}

func parseOptions(args []string) (*options, error) {
	opts := &options{}
	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return opts, nil
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.HTTPPort != 0 {
		cfg.HTTPPort = opts.HTTPPort
	}
	if opts.RPCPort != 0 {
		cfg.RPCPort = opts.RPCPort
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := config.NewLogger(os.Stderr, level, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, opts.Mock, logger); err != nil {
		logger.Error("dbchat stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, mock bool, logger *slog.Logger) error {
	ctx := context.Background()

	logger.Info("starting dbchat",
		"http_port", cfg.HTTPPort,
		"rpc_port", cfg.RPCPort,
		"database", cfg.DatabaseURL,
		"model", cfg.LLM.Model,
		"query_db_driver", cfg.QueryDB.Driver)

	// Transcript store
	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer db.Close()

	m := metrics.New()

	// Tool policy
	policyEngine, err := policy.LoadEngine(ctx, cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("initialize policy engine: %w", err)
	}

	// Tools
	registry := tools.NewRegistry(
		tools.WithPolicy(policyEngine),
		tools.WithObserver(m),
		tools.WithLogger(logger),
		tools.WithConcurrency(cfg.Chat.ToolConcurrency),
	)
	if err := tools.RegisterBuiltins(registry, time.Now); err != nil {
		return fmt.Errorf("register builtin tools: %w", err)
	}
	if cfg.QueryDB.DSN != "" {
		queryDB, err := querydb.Open(ctx, cfg.QueryDB.Driver, cfg.QueryDB.DSN)
		if err != nil {
			return fmt.Errorf("open query database: %w", err)
		}
		defer queryDB.Close()
		if err := tools.NewSQLTool(queryDB, cfg.QueryDB.MaxRows).Register(registry); err != nil {
			return fmt.Errorf("register sql tool: %w", err)
		}
	} else {
		logger.Warn("query_db.dsn is empty; the sql_query tool is disabled")
	}

	// Model gateway
	gateway := llm.NewGateway(llm.Config{
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLM.APIKey,
		Model:        cfg.LLM.Model,
		SystemPrompt: cfg.LLM.SystemPrompt,
		Timeout:      cfg.LLMTimeout(),
		MaxRetries:   cfg.LLM.MaxRetries,
	}, mock, logger)

	o := orchestrator.New(db, gateway, registry, orchestrator.Config{
		MaxToolIterations: cfg.Chat.MaxToolIterations,
		HistoryWindow:     cfg.Chat.HistoryWindow,
	},
		orchestrator.WithHistory(history.New(cfg.Chat.HistoryTurns, logger)),
		orchestrator.WithRecorder(m),
		orchestrator.WithLogger(logger),
	)

	// Session gate
	locker, closeLocker, err := sessionlock.FromURL(cfg.RedisURL, cfg.SessionLockTTL())
	if err != nil {
		return fmt.Errorf("initialize session lock: %w", err)
	}
	defer closeLocker()

	svc := service.New(db, o, locker, registry, logger)

	// HTTP server
	httpServer := handler.NewServer(svc, m.Handler(), logger)
	errCh := make(chan error, 2)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	logger.Info("HTTP API started", "port", cfg.HTTPPort)

	// RPC server
	var rpcServer *rpc.Server
	if cfg.RPCPort > 0 {
		rpcServer, err = rpc.NewServer(svc, logger)
		if err != nil {
			return fmt.Errorf("initialize rpc server: %w", err)
		}
		go func() {
			if err := rpcServer.Start(fmt.Sprintf(":%d", cfg.RPCPort)); err != nil {
				errCh <- fmt.Errorf("rpc server: %w", err)
			}
		}()
		logger.Info("JSON-RPC API started", "port", cfg.RPCPort)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutting down dbchat", "signal", sig.String())
	case runErr = <-errCh:
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown HTTP server gracefully", "error", err)
	}
	if rpcServer != nil {
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown RPC server gracefully", "error", err)
		}
	}

	logger.Info("dbchat stopped")
	return runErr
}
