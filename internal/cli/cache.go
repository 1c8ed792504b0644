package cli

import (
	"fmt"

	"github.com/saxonscout/scoutcache/internal/cache"
	"github.com/spf13/cobra"
)

func newCacheCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}
	cmd.AddCommand(newCacheClearCmd(e), newCacheSweepCmd(e), newCacheStatsCmd(e))
	return cmd
}

func newCacheClearCmd(e *env) *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := tierKinds(tier)
			if err != nil {
				return err
			}
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer dispose(a)

			a.Scope.Clear(kinds...)
			fmt.Fprintln(e.stdout, "Cache cleared.")
			return nil
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "", "only clear this tier (memory, persistent)")
	return cmd
}

func newCacheSweepCmd(e *env) *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := tierKinds(tier)
			if err != nil {
				return err
			}
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer dispose(a)

			before := a.Scope.Stats()
			a.Scope.ClearExpired(kinds...)
			after := a.Scope.Stats()

			for i := range after {
				fmt.Fprintf(e.stdout, "%s: removed %d\n", after[i].Tier, before[i].Size-after[i].Size)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "", "only sweep this tier (memory, persistent)")
	return cmd
}

func newCacheStatsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts per tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer dispose(a)

			return writeJSON(e.stdout, a.Scope.Stats())
		},
	}
}

func tierKinds(tier string) ([]cache.TierKind, error) {
	if tier == "" {
		return nil, nil
	}
	kind, err := cache.ParseTierKind(tier)
	if err != nil {
		return nil, err
	}
	return []cache.TierKind{kind}, nil
}
