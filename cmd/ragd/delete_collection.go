package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCollectionCmd = &cobra.Command{
	Use:   "delete-collection [collection]",
	Short: "Delete every fragment belonging to a collection.",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runDeleteCollection),
}

func runDeleteCollection(ctx context.Context, a *app, args []string) error {
	collection := args[0]
	if err := a.store.DeleteCollection(ctx, collection); err != nil {
		return err
	}
	fmt.Printf("deleted collection %q\n", collection)
	return nil
}
