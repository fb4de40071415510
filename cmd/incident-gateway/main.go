// ABOUTME: Entry point for the incident-gateway service
// ABOUTME: Wires config, stores, the completion backend, and the HTTP API

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/sentinelops/incident-gateway/internal/api"
	"github.com/sentinelops/incident-gateway/internal/completion"
	"github.com/sentinelops/incident-gateway/internal/config"
	"github.com/sentinelops/incident-gateway/internal/gateway"
	"github.com/sentinelops/incident-gateway/internal/orchestrator"
	"github.com/sentinelops/incident-gateway/internal/store"
)

const defaultConfigPath = "config.yaml"

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: incident-gateway <command> [config-path]")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the gateway server")
		fmt.Println("  health    Check gateway health")
		os.Exit(1)
	}

	configPath := defaultConfigPath
	if len(os.Args) > 2 {
		configPath = os.Args[2]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, configPath)
	case "health":
		err = runHealth(ctx, configPath)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	sessions, incidents, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	completer, err := buildCompleter(ctx, cfg)
	if err != nil {
		return err
	}

	newSession := func() orchestrator.ToolSession {
		return gateway.NewSession(gateway.Config{
			Command:          cfg.Tools.Command,
			Args:             cfg.Tools.Args,
			HandshakeTimeout: cfg.Tools.HandshakeTimeout,
		})
	}

	orch := orchestrator.New(completer, newSession,
		orchestrator.WithSessionStore(sessions),
		orchestrator.WithMaxIterations(cfg.Orchestrator.MaxIterations),
		orchestrator.WithMaxTokens(cfg.Completion.MaxTokens),
	)

	apiServer := api.NewServer(api.Config{
		Runner:       orch,
		Sessions:     sessions,
		Incidents:    incidents,
		SystemPrompt: cfg.Orchestrator.SystemPrompt,
	})

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: apiServer.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("incident-gateway listening", "addr", cfg.Server.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runHealth(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway unhealthy: status %d", resp.StatusCode)
	}
	fmt.Println("healthy")
	return nil
}

// buildStores opens the configured persistence backend. Both interfaces are
// served by the same backend instance.
func buildStores(ctx context.Context, cfg *config.Config) (store.SessionStore, store.IncidentStore, func(), error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return s, s, func() { s.Close() }, nil

	case "dynamodb":
		awsCfg, err := loadAWSConfig(ctx, cfg.Storage.Region)
		if err != nil {
			return nil, nil, nil, err
		}
		opts := []store.DynamoOption{}
		if cfg.Storage.ChatTable != "" || cfg.Storage.IncidentTable != "" {
			chat := cfg.Storage.ChatTable
			if chat == "" {
				chat = store.DefaultChatTable
			}
			incident := cfg.Storage.IncidentTable
			if incident == "" {
				incident = store.DefaultIncidentTable
			}
			opts = append(opts, store.WithTables(chat, incident))
		}
		d := store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), opts...)
		return d, d, func() {}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildCompleter(ctx context.Context, cfg *config.Config) (completion.Completer, error) {
	switch cfg.Completion.Provider {
	case "anthropic":
		var opts []completion.AnthropicOption
		if cfg.Completion.BaseURL != "" {
			opts = append(opts, completion.WithBaseURL(cfg.Completion.BaseURL))
		}
		return completion.NewAnthropicClient(cfg.Completion.APIKey, cfg.Completion.Model, opts...), nil

	case "bedrock":
		region := cfg.Completion.Region
		if region == "" {
			region = cfg.Storage.Region
		}
		awsCfg, err := loadAWSConfig(ctx, region)
		if err != nil {
			return nil, err
		}
		return completion.NewBedrockClientFromConfig(awsCfg, cfg.Completion.Model), nil

	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Completion.Provider)
	}
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
