package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golovatskygroup/mcp-atlas/internal/chat"
	"github.com/golovatskygroup/mcp-atlas/internal/dispatch"
	"github.com/golovatskygroup/mcp-atlas/internal/history"
	"github.com/golovatskygroup/mcp-atlas/internal/llm"
	"github.com/golovatskygroup/mcp-atlas/internal/registry"
	"github.com/golovatskygroup/mcp-atlas/internal/session"
	"github.com/golovatskygroup/mcp-atlas/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "assistant: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to YAML config")
	flag.Parse()

	cfg, err := chat.LoadConfig(configPath)
	if err != nil {
		return err
	}

	llmCfg, err := llm.ConfigFromEnv()
	if err != nil {
		return err
	}
	// The env model override (MCP_ATLAS_LLM_MODEL) still beats the file.
	if cfg.LLMModel != "" && strings.TrimSpace(os.Getenv("MCP_ATLAS_LLM_MODEL")) == "" {
		llmCfg.Model = cfg.LLMModel
	}
	model := llm.New(llmCfg)

	sources := make([]registry.Source, 0, len(cfg.Providers))
	for _, base := range cfg.Providers {
		sources = append(sources, mcp.NewClient(base, cfg.ProviderTimeout()))
	}
	reg := registry.New(sources...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A failed first discovery leaves the catalog empty; tools can be picked
	// up later through the refresh endpoint once the providers are up.
	refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := reg.Refresh(refreshCtx); err != nil {
		fmt.Fprintf(os.Stderr, "assistant: tool discovery failed: %v\n", err)
	} else {
		fmt.Fprintf(os.Stderr, "assistant: discovered %d tools from %d providers\n", reg.Count(), len(cfg.Providers))
	}
	cancel()

	var store *history.Store
	if cfg.HistoryDB != "" {
		store, err = history.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	srv := chat.NewServer(reg, dispatch.New(reg, model), session.NewManager(), store)
	if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
