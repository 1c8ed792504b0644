package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/saxonscout/scoutcache/internal/apiclient"
	"github.com/saxonscout/scoutcache/internal/cache"
	"github.com/spf13/cobra"
)

func newGetCmd(e *env) *cobra.Command {
	var (
		params  []string
		noCache bool
		tier    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "get <client> <path>",
		Short: "GET a path, answering from the cache when possible",
		Example: `  scoutcache get tba /event/2024txho/teams -p simple=true
  scoutcache get api /matches --tier persistent --ttl 1h`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := parseParams(params)
			if err != nil {
				return err
			}
			overrides, err := getOverrides(noCache, tier, ttl)
			if err != nil {
				return err
			}

			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer dispose(a)

			client, err := a.Client(args[0])
			if err != nil {
				return err
			}
			body, err := client.Get(cmd.Context(), args[1], query, overrides...)
			if err != nil {
				return err
			}
			return writeRaw(e.stdout, body)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "query parameter as key=value, repeatable")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "skip the cache for this request")
	cmd.Flags().StringVar(&tier, "tier", "", "cache tier to use (memory, persistent)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "cache lifetime of the response")
	return cmd
}

func newSendCmd(e *env, verb string) *cobra.Command {
	method := strings.ToUpper(verb)
	var data string

	cmd := &cobra.Command{
		Use:   verb + " <client> <path>",
		Short: method + " a JSON body; never cached",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(data, e.stdin)
			if err != nil {
				return err
			}

			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer dispose(a)

			client, err := a.Client(args[0])
			if err != nil {
				return err
			}
			reply, err := client.Do(cmd.Context(), method, args[1], body)
			if err != nil {
				return err
			}
			return writeRaw(e.stdout, reply)
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", `JSON request body, "-" reads stdin`)
	return cmd
}

func newDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <client> <path>",
		Short: "DELETE a path; never cached",
		Args:  cobra.ExactArgs(2),
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
			reply, err := client.Delete(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			return writeRaw(e.stdout, reply)
		},
	}
}

// parseParams turns key=value pairs into query parameters. A key given
// more than once becomes a list.
func parseParams(pairs []string) (apiclient.Params, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := apiclient.Params{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", pair)
		}
		switch prev := params[key].(type) {
		case nil:
			params[key] = value
		case string:
			params[key] = []string{prev, value}
		case []string:
			params[key] = append(prev, value)
		}
	}
	return params, nil
}

func getOverrides(noCache bool, tier string, ttl time.Duration) ([]apiclient.PolicyOverride, error) {
	var overrides []apiclient.PolicyOverride
	if noCache {
		overrides = append(overrides, apiclient.NoCache())
	}
	if tier != "" {
		kind, err := cache.ParseTierKind(tier)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, apiclient.InTier(kind))
	}
	if ttl != 0 {
		overrides = append(overrides, apiclient.TTL(ttl))
	}
	return overrides, nil
}

// readBody parses data, or stdin when data is "-", as JSON. No data means
// no body.
func readBody(data string, stdin io.Reader) (any, error) {
	if data == "" {
		return nil, nil
	}
	raw := []byte(data)
	if data == "-" {
		var err error
		if raw, err = io.ReadAll(stdin); err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}
	return json.RawMessage(raw), nil
}
