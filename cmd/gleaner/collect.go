package main

import (
	"context"
	"fmt"
	"time"

	"github.com/FranksOps/gleaner/internal/source"
	"github.com/FranksOps/gleaner/internal/stats"
	"github.com/FranksOps/gleaner/internal/workflow"
	"github.com/spf13/cobra"
)

func init() {
	reviewsCmd.Flags().String("source", source.NameCatalog, "catalog to search: 29cm or musinsa")
	reviewsCmd.Flags().String("keyword", "", "search keyword")
	reviewsCmd.Flags().Int("pages", 1, "number of search result pages to collect")

	followersCmd.Flags().String("url", "", "instagram profile URL")
	followersCmd.Flags().Int("max", 0, "stop after this many followers (0 collects all)")

	searchCmd.Flags().String("query", "", "keyword or #hashtag")
	searchCmd.Flags().Int("max", 0, "keep at most this many posts (0 keeps all)")
	searchCmd.Flags().StringSlice("stats", []string{"api", "meta"}, "author count providers in order: api, meta, browser (empty disables)")
	searchCmd.Flags().String("browser-url", "", "DevTools URL of a running Chrome for the browser provider (default launches one)")
	searchCmd.Flags().Duration("browser-timeout", 30*time.Second, "page load timeout for the browser provider")

	rootCmd.AddCommand(reviewsCmd, followersCmd, searchCmd)
}

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "Search a catalog and export every review of the products found.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		req := workflow.CatalogRequest{
			Source:  v.GetString("source"),
			Keyword: v.GetString("keyword"),
			Pages:   v.GetInt("pages"),
		}
		r := a.runner(workflow.Config{})
		return a.run(cmd.Context(), func(ctx context.Context) (*workflow.Output, error) {
			return r.CatalogReviews(ctx, req)
		})
	},
}

var followersCmd = &cobra.Command{
	Use:   "followers",
	Short: "Export the followers of an instagram profile.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		req := workflow.FollowersRequest{
			ProfileURL:   v.GetString("url"),
			MaxFollowers: v.GetInt("max"),
		}
		r := a.runner(workflow.Config{})
		return a.run(cmd.Context(), func(ctx context.Context) (*workflow.Output, error) {
			return r.Followers(ctx, req)
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search instagram posts and export them with their comments.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		provider, err := a.statsProvider(v.GetStringSlice("stats"))
		if err != nil {
			return err
		}

		req := workflow.SearchRequest{
			Query:    v.GetString("query"),
			MaxPosts: v.GetInt("max"),
		}
		r := a.runner(workflow.Config{Stats: provider})
		return a.run(cmd.Context(), func(ctx context.Context) (*workflow.Output, error) {
			return r.PostSearch(ctx, req)
		})
	},
}

// statsProvider chains the named providers. It returns nil when names is
// empty so the count columns stay blank.
func (a *app) statsProvider(names []string) (stats.Provider, error) {
	var providers []stats.Provider
	for _, name := range names {
		switch name {
		case "api":
			providers = append(providers, &stats.APIProvider{Social: source.NewSocial(a.client), Credentials: a.creds})
		case "meta":
			providers = append(providers, &stats.MetaProvider{Doer: a.client, Credentials: a.creds})
		case "browser":
			b := &stats.BrowserProvider{
				ControlURL: v.GetString("browser-url"),
				Timeout:    v.GetDuration("browser-timeout"),
				Logger:     a.logger,
			}
			if uas := v.GetStringSlice("user-agent"); len(uas) > 0 {
				b.UserAgent = uas[0]
			}
			a.closers = append(a.closers, b.Close)
			providers = append(providers, b)
		case "", "none":
		default:
			return nil, fmt.Errorf("unknown stats provider %q", name)
		}
	}
	if len(providers) == 0 {
		return nil, nil
	}
	return &stats.Chain{Providers: providers, Logger: a.logger}, nil
}
