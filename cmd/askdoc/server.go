package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/askdoc/internal/api"
	"github.com/kalambet/askdoc/internal/config"
	"github.com/kalambet/askdoc/internal/ingest"
)

const shutdownGrace = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the askdoc HTTP API (and optionally MCP over stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		ctx, stop := signalContext()
		defer stop()
		return runServer(ctx, withMCP)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools on stdin/stdout")
}

// pidFile records the serving process so a second serve can name it.
type pidFile string

func newPIDFile(dataDir string) pidFile {
	return pidFile(filepath.Join(dataDir, "askdoc.pid"))
}

func (p pidFile) write() error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func (p pidFile) read() (int, error) {
	data, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func (p pidFile) remove() { os.Remove(string(p)) }

// ensureNotServing fails when something already answers /health on port.
func ensureNotServing(port int, pid pidFile) error {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return nil
	}
	resp.Body.Close()
	if n, err := pid.read(); err == nil {
		printWarning("askdoc is already running (PID %d)", n)
		return fmt.Errorf("server already running (PID %d)", n)
	}
	return fmt.Errorf("server already running on port %d", port)
}

func runServer(ctx context.Context, withMCP bool) error {
	fmt.Fprintf(stderr, "askdoc version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.SlogLevel())

	token, err := config.EnsureAPIToken(&cfg)
	if err != nil {
		return err
	}

	pid := newPIDFile(cfg.Storage.DataDir)
	if err := ensureNotServing(cfg.Server.Port, pid); err != nil {
		return err
	}
	if err := pid.write(); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer pid.remove()

	rt, err := newRuntime(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	worker := ingest.NewWorker(rt.conv, ingest.Options{Fetch: rt.fetch})

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewHandler(api.Deps{
			Conversation: rt.conv,
			Loader:       worker,
			Documents:    rt.store,
			Token:        token,
			ResolveBlob:  cfg.BlobURL,
		}),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	if withMCP {
		stdio := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{
			Conversation: rt.conv,
			Fetch:        rt.fetch,
			Version:      version,
		}))
		g.Go(func() error {
			if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server stopped", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}
	g.Go(func() error {
		fmt.Fprintf(stderr, "askdoc listening on %s\n", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
