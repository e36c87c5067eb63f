// Command ragd is the administrative CLI over the RAG orchestrator
// boundary: ingest fragments, ask questions, and manage collections.
// The cobra.Command tree and flags/env binding mirror
// cmd/divinesense/main.go's rootCmd structure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/ragd/internal/config"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "ragd",
	Short: "A local, offline retrieval-augmented generation backend.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	if err := config.BindFlags(rootCmd, v); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(askCmd, ingestCmd, listCollectionsCmd, deleteCollectionCmd)
}

// withApp builds the app singletons, runs fn, and tears them down
// afterward, regardless of fn's outcome.
func withApp(fn func(ctx context.Context, a *app, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		c := make(chan os.Signal, 1)
		signal.Notify(c, terminationSignals...)
		go func() {
			<-c
			cancel()
		}()

		a, err := newApp(ctx, v)
		if err != nil {
			return err
		}
		defer a.close()

		return fn(ctx, a, args)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ragd:", err)
		os.Exit(1)
	}
}
