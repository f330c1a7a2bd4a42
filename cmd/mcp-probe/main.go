package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/vikashloomba/mcp-compat-server-go/pkg/config"
	"github.com/vikashloomba/mcp-compat-server-go/pkg/mcpclient"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "mcp-probe: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, _, err := config.LoadProbe(args)
	if err != nil {
		return err
	}
	if cfg.Trace {
		cfg.Logging.Level = "debug"
	}
	logger, err := cfg.Logging.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	headers, err := cfg.HTTPHeaders()
	if err != nil {
		return err
	}

	var toolArgs map[string]any
	if cfg.Tool != "" {
		if err := json.Unmarshal([]byte(cfg.Arguments), &toolArgs); err != nil {
			return fmt.Errorf("invalid --args: %w", err)
		}
	}

	clientCfg := &mcpclient.Config{
		Endpoint:    cfg.Endpoint,
		SSEEndpoint: cfg.SSEEndpoint,
		PreferSSE:   cfg.PreferSSE,
		Headers:     headers,
		Timeout:     cfg.Timeout,
		Logger:      logger,
	}
	if cfg.Trace {
		clientCfg.RPCLogger = mcpclient.SlogRPCLogger(logger)
	}
	client, err := mcpclient.New(clientCfg)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	fmt.Fprintf(stdout, "connected over %s transport", client.Generation())
	if id := client.SessionID(); id != "" {
		fmt.Fprintf(stdout, " (session %s)", id)
	}
	fmt.Fprintln(stdout)

	tools, err := client.ListTools(ctx)
	if err != nil {
		return err
	}
	for _, tool := range tools {
		fmt.Fprintf(stdout, "  %s\t%s\n", tool.Name, tool.Description)
	}

	if cfg.Tool == "" {
		return nil
	}
	text, err := client.CallToolText(ctx, cfg.Tool, toolArgs)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s => %s\n", cfg.Tool, text)
	return nil
}
