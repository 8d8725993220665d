package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simonyos/zcode-core/internal/config"
	"github.com/simonyos/zcode-core/internal/llm"
	"github.com/simonyos/zcode-core/internal/orchestrator"
	"github.com/simonyos/zcode-core/internal/tools"
	"github.com/simonyos/zcode-core/internal/worker"
)

var (
	baseURLFlag  string
	apiKeyFlag   string
	modelFlag    string
	maxTurnsFlag int
)

// rootCmd drives the full core end to end on stdin/stdout: a line-oriented
// REPL, not a terminal UI. Each line the user types becomes one top-level
// ChatRequestMsg posted to the API worker; StreamChunk/ToolCallRequest/
// ToolCallResult/StreamComplete/StreamError events are printed as they
// arrive on api_responses.
var rootCmd = &cobra.Command{
	Use:   "zcode",
	Short: "Line-oriented REPL over the zcode streaming/tool-calling core",
	Long: `zcode drives an OpenAI-compatible chat-completions endpoint through
the full streaming/tool-call-reassembly/orchestration core: SSE parsing,
tool-call reassembly across arbitrary fragment boundaries, and a bounded
recursive tool-execution loop, running on a worker/tool-worker pair
connected by typed message queues.

This binary is a demonstration harness, not a product UI.`,
	Run: runREPL,
}

func runREPL(cmd *cobra.Command, args []string) {
	cfg := config.Get()

	baseURL := resolveBaseURL()
	apiKey := resolveAPIKey()
	model := modelFlag
	if model == "" {
		model = cfg.DefaultModel
	}
	if model == "" {
		model = "gpt-4o"
	}

	logger, _ := zap.NewProduction()
	if logger == nil {
		logger = zap.NewNop()
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	coreCfg := cfg.CoreConfig(baseURL, apiKey, model)
	if maxTurnsFlag > 0 {
		coreCfg.MaxTurns = maxTurnsFlag
	}

	registry := defaultToolRegistry()
	coreCfg.Tools = registry.LLMToolDefinitions()

	transport := orchestrator.NewHTTPTransport(nil, baseURL, apiKey)
	coord := worker.NewCoordinator(logger)
	orch := orchestrator.New(coreCfg, transport, coord, orchestrator.WithLogger(logger))

	coord.StartToolRelay(ctx)
	go worker.RunToolWorker(ctx, coord, tools.NewExecutor(registry))
	go worker.RunAPIWorker(ctx, coord, orch)

	fmt.Printf("zcode core REPL — model=%s base_url=%s (Ctrl-D to quit)\n", model, baseURL)

	var history []llm.Message
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		history = append(history, llm.Message{Role: llm.RoleUser, Content: line})
		requestID := uuid.NewString()

		if err := coord.APIRequests.Post(ctx, worker.ChatRequestMsg{RequestID: requestID, Messages: history}); err != nil {
			fmt.Printf("error: could not submit request: %v\n", err)
			continue
		}

		history = drainTurn(ctx, coord, requestID, history)
	}

	coord.APIRequests.Post(ctx, worker.ShutdownMsg{})
	coord.ToolRequests.Post(ctx, worker.ShutdownMsg{})
	coord.Shutdown()
}

// drainTurn reads api_responses until the terminal event for requestID,
// printing streamed content and tool-call events, and returns the
// conversation with the assistant's final message appended.
func drainTurn(ctx context.Context, coord *worker.Coordinator, requestID string, history []llm.Message) []llm.Message {
	var finalContent strings.Builder
	for {
		ev, ok := coord.APIResponses.Receive(ctx)
		if !ok {
			return history
		}
		switch e := ev.(type) {
		case orchestrator.ReadyEvent:
			// no-op: nothing to print for the accepted-request acknowledgment.
		case orchestrator.StreamChunkEvent:
			if e.RequestID != requestID {
				continue
			}
			if e.Content != "" {
				fmt.Print(e.Content)
				finalContent.WriteString(e.Content)
			}
			if e.ThinkingContent != "" {
				fmt.Printf("\n[thinking] %s\n", e.ThinkingContent)
			}
		case orchestrator.ToolCallRequestEvent:
			if e.RequestID != requestID {
				continue
			}
			fmt.Printf("\n%s %s(%s)\n", e.Icon, e.ToolName, truncate(e.ArgsPreview, 80))
		case orchestrator.ToolCallResultEvent:
			if e.RequestID != requestID {
				continue
			}
			status := "ok"
			if !e.Success {
				status = "error"
			}
			fmt.Printf("  -> %s: %s\n", status, truncate(e.Summary, 120))
		case orchestrator.StreamCompleteEvent:
			if e.RequestID != requestID {
				continue
			}
			fmt.Println()
			return append(history, llm.Message{Role: llm.RoleAssistant, Content: finalContent.String()})
		case orchestrator.StreamErrorEvent:
			if e.RequestID != requestID {
				continue
			}
			fmt.Printf("\nerror: %v\n", e.Err)
			return history
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func resolveBaseURL() string {
	if baseURLFlag != "" {
		return baseURLFlag
	}
	if url := os.Getenv("ZCODE_BASE_URL"); url != "" {
		return url
	}
	return "https://openrouter.ai/api/v1"
}

func resolveAPIKey() string {
	if apiKeyFlag != "" {
		return apiKeyFlag
	}
	if key := config.GetOpenRouterKey(); key != "" {
		return key
	}
	return config.GetOpenAIKey()
}

func defaultToolRegistry() *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(tools.NewBashTool(nil))
	reg.Register(tools.NewReadFileTool())
	reg.Register(tools.NewWriteFileTool(nil))
	reg.Register(tools.NewEditTool(nil))
	reg.Register(tools.NewListDirTool())
	reg.Register(tools.NewGlobTool())
	reg.Register(tools.NewGrepTool())
	return reg
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&baseURLFlag, "base-url", "", "chat-completions base URL (default: openrouter)")
	rootCmd.Flags().StringVar(&apiKeyFlag, "api-key", "", "bearer API key (default: from config/env)")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "model name")
	rootCmd.Flags().IntVar(&maxTurnsFlag, "max-turns", 0, "override the orchestrator's recursion limit (0 = config/default)")
}
