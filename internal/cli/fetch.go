package cli

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/saxonscout/scoutcache/internal/apiclient"
	"github.com/saxonscout/scoutcache/internal/cache"
	"github.com/saxonscout/scoutcache/internal/query"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type fetchResult struct {
	Data   map[string]json.RawMessage  `json:"data"`
	Errors map[string]*apiclient.Error `json:"errors,omitempty"`
}

func newFetchCmd(e *env) *cobra.Command {
	var revalidate bool

	cmd := &cobra.Command{
		Use:   "fetch <client> <path>...",
		Short: "GET several paths concurrently and print them as one JSON object",
		Long: `Fetch requests every path at once, answering each from the cache when
possible. Paths that fail are listed under "errors"; the others are still
printed and cached. The exit code is 1 when any path failed.`,
		Example: `  scoutcache fetch tba /team/frc5499 /team/frc254 /team/frc1678`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer dispose(a)

			client, err := a.Client(args[0])
			if err != nil {
				return err
			}

			result, err := fetchAll(cmd.Context(), client, a.Scope, args[1:], revalidate)
			if err != nil {
				return err
			}
			if len(result.Errors) > 0 {
				e.exitCode = ExitRequestFailed
			}
			return writeJSON(e.stdout, result)
		},
	}

	cmd.Flags().BoolVar(&revalidate, "revalidate", false, "refresh cached paths in the background before exiting")
	return cmd
}

// fetchAll loads paths through a query.Batch keyed by the client's own
// cache keys, so results are shared with plain GETs. A client with caching
// disabled gets a private scope that is dropped afterwards.
func fetchAll(ctx context.Context, client *apiclient.Client, scope *cache.Scope, paths []string, revalidate bool) (fetchResult, error) {
	policy := client.Policy()
	if !policy.Enabled {
		scope = cache.NewScope(cache.Options{})
		defer func() { _ = scope.Dispose() }()
	}

	keys := make([]string, 0, len(paths))
	pathOf := make(map[string]string, len(paths))
	for _, path := range paths {
		key, err := client.CacheKey(path, nil)
		if err != nil {
			return fetchResult{}, err
		}
		if _, dup := pathOf[key]; dup {
			continue
		}
		keys = append(keys, key)
		pathOf[key] = path
	}

	batch := query.NewBatch[json.RawMessage](scope, query.Options{
		Tier:       policy.Tier,
		TTL:        policy.TTL,
		Revalidate: revalidate,
		OnError: func(key string, err error) {
			logrus.WithField("client", client.Name()).Debugf("Fetching %s failed: %v", pathOf[key], err)
		},
	})
	batch.Use(ctx, keys, func(ctx context.Context, key string) (json.RawMessage, error) {
		return client.Get(ctx, pathOf[key], nil, apiclient.NoCache())
	})
	batch.Wait()
	batch.Close()

	state := batch.State()
	result := fetchResult{Data: make(map[string]json.RawMessage, len(state.DataMap))}
	for key, data := range state.DataMap {
		result.Data[pathOf[key]] = data
	}
	for key, err := range state.Errors {
		if result.Errors == nil {
			result.Errors = make(map[string]*apiclient.Error)
		}
		result.Errors[pathOf[key]] = asAPIError(err)
	}
	return result, nil
}

func asAPIError(err error) *apiclient.Error {
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &apiclient.Error{Code: apiclient.CodeUnknown, Message: err.Error(), Err: err}
}
