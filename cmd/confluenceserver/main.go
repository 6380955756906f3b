package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/golovatskygroup/mcp-atlas/internal/provider"
	"github.com/golovatskygroup/mcp-atlas/internal/tools"
)

const version = "1.0.0"

func main() {
	var addr string
	flag.StringVar(&addr, "addr", ":8001", "listen address")
	flag.Parse()

	_ = godotenv.Load()

	h, err := tools.NewConfluenceHandler()
	if err != nil {
		fmt.Fprintf(os.Stderr, "confluenceserver: %v\n", err)
		os.Exit(1)
	}

	s := provider.New("confluence-mcp", version)
	h.Register(s)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "confluenceserver: %v\n", err)
		os.Exit(1)
	}
}
