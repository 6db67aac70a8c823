package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Pantry/internal/catalog"
	"Pantry/internal/config"
	"Pantry/internal/foodapi"
	"Pantry/pkg/kit"
)

type searchOpts struct {
	category string
	sort     string
	pages    int
}

func newSearchCmd() *cobra.Command {
	var opts searchOpts

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Print a sorted product listing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			log := kit.NewLogger(service, cfg.LogLevel)
			defer func() { _ = log.Sync() }()

			foods := foodapi.NewClient(foodapi.Config{
				BaseURL:   cfg.FoodAPI.BaseURL,
				Timeout:   cfg.FoodAPI.Timeout,
				UserAgent: cfg.FoodAPI.UserAgent,
				Log:       log,
			})

			return runSearch(cmd.Context(), cmd.OutOrStdout(), foods, strings.Join(args, " "), opts, log)
		},
	}

	cmd.Flags().StringVarP(&opts.category, "category", "c", "", "category id, e.g. en:snacks (overrides the query)")
	cmd.Flags().StringVarP(&opts.sort, "sort", "s", "relevance", "relevance, name_asc, name_desc or grade")
	cmd.Flags().IntVarP(&opts.pages, "pages", "p", 1, "pages to fetch")
	return cmd
}

func runSearch(ctx context.Context, out io.Writer, src catalog.Source, query string, opts searchOpts, log *zap.Logger) error {
	key, err := catalog.ParseSortKey(opts.sort)
	if err != nil {
		return err
	}

	c := catalog.NewController(src, catalog.Options{Log: log})
	defer c.Close()

	if opts.category != "" {
		c.SetCategory(opts.category)
	} else {
		c.SetQuery(query)
	}
	if err := c.Reload(ctx); err != nil {
		return err
	}

	for i := 1; i < opts.pages; i++ {
		issued, err := c.LoadMore(ctx)
		if err != nil {
			return err
		}
		if !issued {
			break
		}
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tGRADE\tBRAND\tNAME")
	for _, p := range c.Sorted(key) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Code, p.Grade(), p.PrimaryBrand(), p.Name)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	st := c.State()
	fmt.Fprintf(out, "\n%d products, more available: %t\n", len(st.Items), st.HasMore)
	return nil
}
