package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"shelfcheck/internal/app"
	"shelfcheck/internal/collection"
	"shelfcheck/internal/observer"
	"shelfcheck/internal/platform/config"
	"shelfcheck/internal/platform/logger"
	"shelfcheck/pkg/domain"
)

func newResolveCommand(root *rootOptions) *cobra.Command {
	var (
		catalog string
		refresh bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "resolve owner/list",
		Short: "Resolve every title of a list against a catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseCollectionID(args[0])
			if err != nil {
				return err
			}
			path := root.configPath
			if path == "" {
				path = os.Getenv("SHELFCHECK_CONFIG")
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			level := "warn"
			if root.verbose {
				level = "debug"
			}
			log := logger.NewWithWriter(cmd.ErrOrStderr(), level, "text")

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			if err := a.Start(ctx); err != nil {
				return err
			}
			if catalog == "" {
				catalog = a.DefaultCatalog()
			}

			snap, err := resolve(ctx, a.Collections, id, catalog, refresh)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), id, snap)
			return nil
		},
	}

	cmd.Flags().StringVar(&catalog, "catalog", "", "Catalog id (defaults to the first configured catalog)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Refetch list membership even if it is cached")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Give up waiting for lookups after this long")
	return cmd
}

// resolver is the part of the collection service the command drives.
type resolver interface {
	LoadItems(ctx context.Context, id domain.CollectionID, refresh bool) error
	LoadAvailability(ctx context.Context, id domain.CollectionID, catalog string) (domain.Vector, error)
	Snapshot(ctx context.Context, id domain.CollectionID) (collection.Snapshot, error)
	Subscribe(ctx context.Context, id domain.CollectionID, observerID string, sink observer.Sink[collection.Notification]) error
	Unsubscribe(ctx context.Context, id domain.CollectionID, observerID string) error
}

// resolve loads the list and waits until no slot is pending or ctx ends.
func resolve(ctx context.Context, svc resolver, id domain.CollectionID, catalog string, refresh bool) (collection.Snapshot, error) {
	if err := svc.LoadItems(ctx, id, refresh); err != nil {
		return collection.Snapshot{}, err
	}

	done := make(chan struct{})
	var once sync.Once
	observerID := "shelfctl-" + uuid.NewString()
	sink := observer.SinkFunc[collection.Notification](func(_ context.Context, notes []collection.Notification) error {
		for _, n := range notes {
			if n.Pending == 0 {
				once.Do(func() { close(done) })
			}
		}
		return nil
	})
	if err := svc.Subscribe(ctx, id, observerID, sink); err != nil {
		return collection.Snapshot{}, err
	}
	defer svc.Unsubscribe(context.Background(), id, observerID)

	vec, err := svc.LoadAvailability(ctx, id, catalog)
	if err != nil {
		return collection.Snapshot{}, err
	}
	if vec.Pending() > 0 {
		select {
		case <-done:
		case <-ctx.Done():
			return collection.Snapshot{}, fmt.Errorf("waiting for %d lookups: %w", vec.Pending(), ctx.Err())
		}
	}
	return svc.Snapshot(ctx, id)
}

func printResult(w io.Writer, id domain.CollectionID, snap collection.Snapshot) {
	title := snap.Title
	if title == "" {
		title = id.String()
	}
	fmt.Fprintf(w, "%s (%s)\n", title, snap.Catalog)
	fmt.Fprintln(w, renderAvailability(snap.Items, snap.Availability))
	fmt.Fprintf(w, "%d of %d titles on the shelf\n", onShelf(snap.Availability), len(snap.Items))
}

func onShelf(vec domain.Vector) int {
	n := 0
	for _, tags := range vec {
		if len(tags) > 0 {
			n++
		}
	}
	return n
}
