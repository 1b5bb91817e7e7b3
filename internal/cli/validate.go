package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/geopostgis/internal/catalog"
	"github.com/JonMunkholm/geopostgis/internal/config"
	"github.com/JonMunkholm/geopostgis/internal/dataset"
	"github.com/JonMunkholm/geopostgis/internal/logging"
	"github.com/JonMunkholm/geopostgis/internal/objectstore"
	"github.com/JonMunkholm/geopostgis/internal/postgis"
)

func newValidateCommand(a *app) *cobra.Command {
	var ping, verbose bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and show what a run would do",
		Long: `validate loads the configuration and the bundle file, reads each catalog
and prints the status every dataset would start the run with. Nothing is
written to the database or the map server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.validate(cmd.Context(), ping, verbose)
		},
	}
	cmd.Flags().BoolVar(&ping, "ping", false, "also check database and map server connectivity")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list datasets that will not be processed")
	return cmd
}

func (a *app) validate(ctx context.Context, ping, verbose bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	bf, bundles, err := a.loadBundles()
	if err != nil {
		return err
	}

	var objects catalog.ObjectGetter
	if bf.ObjectStore.Enabled() {
		c, err := objectstore.New(bf.ObjectStore)
		if err != nil {
			return err
		}
		objects = c
	}

	for _, b := range bundles {
		records, err := a.validateBundle(ctx, b, objects, ping)
		if err != nil {
			return err
		}
		if err := printStatusTable(a.stdout, b.Name, records, verbose); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) validateBundle(ctx context.Context, b config.Bundle, objects catalog.ObjectGetter, ping bool) ([]*dataset.Record, error) {
	var db catalog.CatalogReader
	if ping || b.Catalog.SourceKind() == config.SourceTable {
		pool, err := openPool(ctx, b, a.cfg.Database, 1)
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		db = postgis.NewStore(pool, a.cfg.Database.BatchSize)
	}

	if ping && b.GeoServer.URL != "" {
		version, err := geoServerClient(b, a.cfg.GeoServer).About(ctx)
		if err != nil {
			return nil, fmt.Errorf("bundle %s: map server: %w", b.Name, err)
		}
		logging.FromContext(ctx).Info("map server reachable", "bundle", b.Name, "version", version)
	}

	src, err := catalogSource(b, db, objects)
	if err != nil {
		return nil, err
	}
	rows, err := src.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: read catalog: %w", b.Name, err)
	}
	return catalog.NewBuilder(builderOptions(b)).Build(ctx, rows)
}

// printStatusTable writes the number of datasets per initial status.
func printStatusTable(w io.Writer, bundle string, records []*dataset.Record, verbose bool) error {
	counts := make(map[dataset.Status]int)
	for _, r := range records {
		counts[r.Status]++
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "bundle %s: %d datasets\n", bundle, len(records))
	for _, s := range dataset.AllStatuses() {
		if counts[s] > 0 {
			fmt.Fprintf(tw, "  %s\t%d\n", s, counts[s])
		}
	}
	if verbose {
		for _, r := range records {
			if r.Status == dataset.StatusReview || r.Status == dataset.StatusIgnore {
				fmt.Fprintf(tw, "  %s\t%s\t%s\n", r.Status, r.Identifier, r.LastNote())
			}
		}
	}
	return tw.Flush()
}
