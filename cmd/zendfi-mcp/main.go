// ZendFi MCP Server - Exposes session keys, payments, and autonomous
// delegation as MCP tools for LLMs.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/zendfi/zendfi-go/internal/config"
	"github.com/zendfi/zendfi-go/internal/logging"
	"github.com/zendfi/zendfi-go/internal/mcptools"
	"github.com/zendfi/zendfi-go/internal/traces"
	"github.com/zendfi/zendfi-go/pkg/lit"
	"github.com/zendfi/zendfi-go/pkg/zendfi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr; stdout is the MCP transport.
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	shutdown, err := traces.Init(context.Background(), cfg.OTLPEndpoint, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tracing init error: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	var encryptor lit.ThresholdEncryptor
	if cfg.EnableLit {
		url := cfg.LitServiceURL
		if url == "" {
			url = lit.DefaultServiceURL
		}
		encryptor = lit.NewHTTPEncryptor(url, cfg.LitNetwork)
	}

	client, err := zendfi.New(zendfi.Config{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.APIURL,
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
		LitEncryptor: encryptor,
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "client init error: %v\n", err)
		os.Exit(1)
	}

	s := mcptools.NewMCPServer(client)
	logger.Info("zendfi mcp server starting", "mode", cfg.Mode, "api_url", cfg.APIURL)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
