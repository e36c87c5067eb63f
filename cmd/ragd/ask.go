package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question against the configured knowledge base.",
	Long: `Ask runs a single question through the orchestrator and prints the
reply. With no question argument, it reads questions from stdin in a
loop, one per line, until EOF.`,
	RunE: withApp(runAsk),
}

func runAsk(ctx context.Context, a *app, args []string) error {
	orch := a.newOrchestrator()

	if question := strings.TrimSpace(strings.Join(args, " ")); question != "" {
		reply, err := orch.Ask(ctx, question)
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		question := scanner.Text()
		if strings.TrimSpace(question) == "" {
			continue
		}
		reply, err := orch.Ask(ctx, question)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ragd: ask:", err)
			continue
		}
		fmt.Println(reply)
	}
	return scanner.Err()
}
