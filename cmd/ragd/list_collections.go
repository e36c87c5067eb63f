package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var listCollectionsCmd = &cobra.Command{
	Use:   "list-collections",
	Short: "List every collection tag present in the fragment store.",
	Args:  cobra.NoArgs,
	RunE:  withApp(runListCollections),
}

func runListCollections(ctx context.Context, a *app, _ []string) error {
	collections, err := a.store.ListCollections(ctx)
	if err != nil {
		return err
	}
	if len(collections) == 0 {
		fmt.Println("(no collections)")
		return nil
	}
	for _, c := range collections {
		fmt.Println(c)
	}
	return nil
}
