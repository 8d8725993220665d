package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/simonyos/zcode-core/internal/llm"
	"github.com/simonyos/zcode-core/internal/provider"
)

// oneshotCmd drives a single turn through package provider — the C1/C2 turn
// primitive without the orchestrator's recursion, deduplication, or
// tool-worker dispatch — for callers that want native streamed tool calls
// surfaced directly instead of auto-executed.
var oneshotCmd = &cobra.Command{
	Use:   "oneshot [prompt]",
	Short: "Run one non-recursive turn through the streaming core and print the result",
	Args:  cobra.MinimumNArgs(1),
	Run:   runOneshot,
}

func runOneshot(cmd *cobra.Command, args []string) {
	prompt := strings.Join(args, " ")

	baseURL := resolveBaseURL()
	apiKey := resolveAPIKey()
	model := modelFlag
	if model == "" {
		model = "gpt-4o"
	}

	p := provider.New(baseURL, apiKey, model)

	chunks, err := p.GenerateStream(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "oneshot: %v\n", err)
		os.Exit(1)
	}

	for chunk := range chunks {
		if chunk.Error != nil {
			fmt.Fprintf(os.Stderr, "\noneshot: %v\n", chunk.Error)
			os.Exit(1)
		}
		if chunk.Done {
			if len(chunk.ToolCalls) > 0 {
				fmt.Println()
				for _, tc := range chunk.ToolCalls {
					fmt.Printf("tool_call: %s(%s)\n", tc.Name, tc.Arguments)
				}
			}
			continue
		}
		fmt.Print(chunk.Text)
	}
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(oneshotCmd)
}
