package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/ragd/internal/fragment"
)

var ingestReplace bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [collection] [fragments.json]",
	Short: "Ingest pre-chunked fragments into a collection.",
	Long: `Ingest reads a JSON array of {"category": "...", "content": "...",
"source_file": "..."} objects (source_file optional) and generates the
triple embeddings for each before persisting them. Document parsing
(PDF/TXT/JSON decomposition into raw fragments) is expected to have
already happened upstream; this command only embeds and stores.`,
	Args: cobra.ExactArgs(2),
	RunE: withApp(runIngest),
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestReplace, "replace", false, "delete the collection's existing fragments first")
}

type rawFragment struct {
	Category   string `json:"category"`
	Content    string `json:"content"`
	SourceFile string `json:"source_file"`
}

func runIngest(ctx context.Context, a *app, args []string) error {
	collection, path := args[0], args[1]

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}

	var raw []rawFragment
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrapf(err, "failed to parse %s as a JSON fragment array", path)
	}

	fragments := make([]*fragment.Fragment, 0, len(raw))
	for _, r := range raw {
		f := fragment.NewFragment(collection, r.Category, r.Content)
		f.SourceFile = r.SourceFile
		fragments = append(fragments, f)
	}

	if err := a.memory.SaveFragments(ctx, fragments, collection, ingestReplace); err != nil {
		return errors.Wrap(err, "ingestion failed")
	}

	fmt.Printf("ingested %d fragments into collection %q\n", len(fragments), collection)
	return nil
}
