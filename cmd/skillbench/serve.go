package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/skillbench/internal/api"
	"github.com/kalambet/skillbench/internal/llm"
	"github.com/kalambet/skillbench/internal/skills"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the skill library over HTTP (and MCP on stdio with --mcp)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.Secrets.APIToken == "" {
			return fmt.Errorf("serve requires SKILLBENCH_API_TOKEN")
		}
		ctx := cmd.Context()

		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				slog.Warn("closing storage", "error", err)
			}
		}()

		if withMCP {
			gw, err := buildGateway(ctx, cfg)
			if err != nil {
				return err
			}
			svc := skills.NewService(store, llm.WithRetry(gw, retryPolicy(cfg)),
				skills.WithRetrieval(cfg.Retrieval.TopK, cfg.Retrieval.MinScore),
				skills.WithDuplicateThreshold(cfg.Skills.DuplicateThreshold),
			)
			mcpSrv := api.NewMCPServer(api.MCPDeps{Skills: svc, OutputDir: cfg.Eval.OutputDir, Version: version})
			stdioSrv := server.NewStdioServer(mcpSrv)
			go func() {
				if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("MCP stdio server error", "error", err)
				}
			}()
			slog.Info("MCP server started (stdio transport)")
		}

		addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
		srv := &http.Server{
			Addr:              addr,
			Handler:           api.NewAppHandler(api.AppDeps{Store: store, Token: cfg.Secrets.APIToken}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("skillbench listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			slog.Info("shutting down")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve the MCP tools on stdio")
}
