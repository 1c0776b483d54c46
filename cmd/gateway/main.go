package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tailored-agentic-units/gateway/agent"
	"github.com/tailored-agentic-units/gateway/agent/appserver"
	"github.com/tailored-agentic-units/gateway/gateway"
	"github.com/tailored-agentic-units/gateway/observability"
	"github.com/tailored-agentic-units/gateway/rpc"
	"github.com/tailored-agentic-units/gateway/security"
	"github.com/tailored-agentic-units/gateway/tools"
	"github.com/tailored-agentic-units/gateway/tools/builtin"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to gateway config JSON file")
		backend    = flag.String("backend", "", "Command that starts the agent backend subprocess (required)")
		workspace  = flag.String("workspace", "", "Workspace root for safe-mode tool containment (overrides config)")
		stateDir   = flag.String("state", "", "Device-scoped state directory (overrides config)")
		mode       = flag.String("mode", "", "Initial security mode: safe or spicy (overrides config)")
		login      = flag.Bool("login", false, "Run the backend login flow before chatting")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	flag.Parse()

	if *backend == "" {
		fmt.Fprintln(os.Stderr, "Usage: gateway -backend <command> [-config <file>]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg := gateway.DefaultConfig()
	if *configFile != "" {
		loaded, err := gateway.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *loaded
	}

	if *workspace != "" {
		cfg.Security.WorkspaceRoot = *workspace
	}
	if cfg.Security.WorkspaceRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatalf("Failed to determine workspace root: %v", err)
		}
		cfg.Security.WorkspaceRoot = cwd
	}
	if *stateDir != "" {
		cfg.Security.StateDir = *stateDir
	}
	if cfg.Security.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to determine state directory: %v", err)
		}
		cfg.Security.StateDir = filepath.Join(home, ".gateway", "state")
	}
	if *mode != "" {
		cfg.Security.Mode = security.Mode(*mode)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	observer := observability.NewSlogObserver(logger)

	toolReg := tools.NewRegistry()
	if err := builtin.Register(toolReg); err != nil {
		log.Fatalf("Failed to register builtin tools: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	backendParts := strings.Fields(*backend)

	providers := agent.NewRegistry()
	err := providers.Register("appserver", func(ctx context.Context) (agent.Provider, error) {
		client := rpc.NewClient(rpc.Config{
			Command: backendParts[0],
			Args:    backendParts[1:],
		}, rpc.WithObserver(observer))
		if err := client.Start(ctx); err != nil {
			return nil, err
		}
		return appserver.New(client,
			appserver.WithObserver(observer),
			appserver.WithURLOpener(appserver.URLOpenerFunc(openBrowser)),
		), nil
	})
	if err != nil {
		log.Fatalf("Failed to register provider: %v", err)
	}

	g, err := gateway.New(cfg, providers, toolReg, gateway.WithObserver(observer))
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	if *login {
		provider, err := providers.Get(ctx, "appserver")
		if err != nil {
			log.Fatalf("Failed to start backend: %v", err)
		}
		if err := provider.(*appserver.Provider).Login(ctx, appserver.LoginOptions{}); err != nil {
			log.Fatalf("Login failed: %v", err)
		}
		fmt.Println("Logged in.")
	}

	if err := runTerminal(ctx, g); err != nil && ctx.Err() == nil {
		log.Fatalf("Gateway terminated: %v", err)
	}
}

// openBrowser opens the login URL with the platform's URL handler.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		fmt.Printf("Open this URL to log in: %s\n", url)
	}
	return nil
}
