// ABOUTME: MCP stdio server exposing the security operations toolset
// ABOUTME: Spawned per conversation by the gateway; logs go to stderr

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sentinelops/incident-gateway/internal/toolbox"
)

const serverVersion = "1.0.0"

func main() {
	// Stdout carries the protocol stream, so all diagnostics go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx := context.Background()

	var opts []func(*awsconfig.LoadOptions) error
	if region := os.Getenv("AWS_REGION"); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	detectorID := os.Getenv("SECOPS_GUARDDUTY_DETECTOR")
	if detectorID == "" {
		logger.Warn("SECOPS_GUARDDUTY_DETECTOR not set, finding lookups will fail")
	}

	tb := toolbox.New(awsCfg, detectorID, toolbox.WithLogger(logger))

	s := server.NewMCPServer(
		"secops-tools",
		serverVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	tb.Register(s)

	logger.Info("secops-tools serving on stdio")
	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}
