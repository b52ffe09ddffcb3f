// Command agentworld runs a single world with one shell-capable agent
// and a line-oriented chat prompt on stdin. It is the reference wiring
// for embedding the library: config, storage, provider resolution,
// tracing, and the world itself.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentworld/agentworld"
	"github.com/agentworld/agentworld/internal/config"
	"github.com/agentworld/agentworld/observer"
	"github.com/agentworld/agentworld/provider/resolve"
	"github.com/agentworld/agentworld/store/file"
	"github.com/agentworld/agentworld/store/memory"
	"github.com/agentworld/agentworld/store/postgres"
	"github.com/agentworld/agentworld/store/sqlite"
	"github.com/agentworld/agentworld/tools/shell"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg := config.Load(os.Getenv("AGENT_WORLD_CONFIG"))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// 2. Create storage
	storage, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Error("open storage", "error", err)
		os.Exit(1)
	}
	defer storage.Close()
	if err := storage.Init(ctx); err != nil {
		logger.Error("init storage", "error", err)
		os.Exit(1)
	}

	// 3. Optional tracing
	var tracer agentworld.Tracer
	if cfg.Observer.Enabled {
		if cfg.Observer.Endpoint != "" {
			os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Observer.Endpoint)
		}
		shutdown, err := observer.Init(ctx)
		if err != nil {
			logger.Error("init observer", "error", err)
			os.Exit(1)
		}
		defer shutdown(context.Background())
		tracer = observer.NewTracer()
	}

	// 4. Create world
	rt := &agentworld.Runtime{
		Storage:                 storage,
		Providers:               resolve.Resolver(),
		Logger:                  logger,
		Tracer:                  tracer,
		Streaming:               cfg.World.Streaming,
		DefaultWorkingDirectory: cfg.World.WorkingDirectory,
	}
	world := agentworld.NewWorld(ctx, rt, agentworld.WorldConfig{
		Name:         cfg.World.Name,
		TurnLimit:    cfg.World.TurnLimit,
		MainAgent:    cfg.World.MainAgent,
		ChatProvider: cfg.LLM.Provider,
		ChatModel:    cfg.LLM.Model,
	}, shell.New())
	defer world.Close()

	mainAgent := cfg.World.MainAgent
	if mainAgent == "" {
		mainAgent = "assistant"
	}
	world.AddAgent(ctx, agentworld.Agent{
		ID:       mainAgent,
		Name:     mainAgent,
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		SystemPrompt: "You are a helpful assistant with access to a shell tool. " +
			"Use it for file and command tasks inside your working directory.",
	})

	printEvents(world, cfg.World.Streaming)

	// 5. Read stdin, publish as the human
	fmt.Println("agentworld ready. Type a message, or /quit to exit.")
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/quit" || line == "/exit":
				return
			case line == "/stop":
				world.StopChat(world.CurrentChatID())
			default:
				chat := world.EnsureChat(ctx)
				world.PublishMessage(line, agentworld.SenderHuman, chat.ID, "")
			}
		}
	}
}

// openStorage selects the backend by cfg.Storage.Type.
func openStorage(ctx context.Context, cfg config.Config) (agentworld.Storage, error) {
	switch cfg.Storage.Type {
	case "", "sqlite":
		return sqlite.New(cfg.Storage.Path), nil
	case "file":
		return file.New(cfg.Storage.Path), nil
	case "memory":
		return memory.New(), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return postgres.New(pool), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// printEvents renders agent output to stdout. With streaming on, text
// arrives as SSE chunks and the final MessageEvent is skipped to avoid
// printing twice.
func printEvents(world *agentworld.World, streaming bool) {
	bus := world.Bus()

	bus.On(agentworld.ChannelMessage, func(event any) error {
		msg, ok := event.(agentworld.MessageEvent)
		if !ok || msg.Sender == agentworld.SenderHuman {
			return nil
		}
		if _, isEnvelope := agentworld.ParseMessageContent(msg.Content); isEnvelope {
			return nil
		}
		if len(msg.ToolCalls) > 0 {
			fmt.Printf("[%s] %s\n", msg.Sender, msg.Content)
			return nil
		}
		if !streaming {
			fmt.Printf("[%s] %s\n", msg.Sender, msg.Content)
		}
		return nil
	})

	if streaming {
		bus.On(agentworld.ChannelSSE, func(event any) error {
			sse, ok := event.(agentworld.SSEEvent)
			if !ok {
				return nil
			}
			switch sse.Type {
			case agentworld.SSEStart:
				fmt.Printf("[%s] ", sse.AgentName)
			case agentworld.SSEChunk:
				fmt.Print(sse.Content)
			case agentworld.SSEEnd:
				fmt.Println()
			case agentworld.SSEError:
				fmt.Printf("\n[%s] error: %s\n", sse.AgentName, sse.Error)
			}
			return nil
		})
	}

	bus.On(agentworld.ChannelSystem, func(event any) error {
		sys, ok := event.(agentworld.SystemEvent)
		if !ok {
			return nil
		}
		fmt.Printf("[system] %s\n", sys.Content)
		return nil
	})
}
