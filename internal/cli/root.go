// Package cli implements the geopostgis command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/geopostgis/internal/config"
	"github.com/JonMunkholm/geopostgis/internal/logging"
)

var (
	// Version is filled in by ldflags at build time.
	Version string
	// BuildTime is filled in by ldflags at build time.
	BuildTime string
)

func setupVersionBuild() {
	if Version == "" {
		Version = "v0.0.0"
	}
	if BuildTime == "" {
		BuildTime = "not recorded"
	}
}

// app is the state shared by subcommands once the root pre-run has loaded
// the configuration.
type app struct {
	stdout io.Writer
	stderr io.Writer

	envFile    string
	bundleFile string
	bundle     string

	cfg *config.Config
}

// NewRootCommand returns the geopostgis command with every subcommand.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	setupVersionBuild()
	a := &app{stdout: stdout, stderr: stderr}

	rc := &cobra.Command{
		Use:   "geopostgis",
		Short: "Load catalogued spatial datasets into PostGIS and publish them on GeoServer",
		Long: `geopostgis reads dataset catalogs, writes vector datasets into PostGIS
and publishes them as GeoServer layers, recording every status change.

Version: ` + Version + `
Build Time: ` + BuildTime + "\n",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	flags := rc.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", ".env", "environment file to load, overriding existing variables")
	flags.StringVarP(&a.bundleFile, "config", "c", "", "bundle file (default: $GEOPOSTGIS_BUNDLES)")
	flags.StringVarP(&a.bundle, "bundle", "b", "", "process only the named bundle")

	rc.AddCommand(newRunCommand(a), newValidateCommand(a), newVersionCommand(a))
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// setup loads the environment file and the process configuration and
// configures logging.
func (a *app) setup() error {
	envLoaded := false
	if a.envFile != "" {
		if err := godotenv.Overload(a.envFile); err == nil {
			envLoaded = true
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.bundleFile != "" {
		cfg.Run.BundleFile = a.bundleFile
	}
	a.cfg = cfg

	logging.SetupWriter(a.stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String(), "env_file_loaded", envLoaded)
	return nil
}

// loadBundles reads the bundle file and selects the bundles to process.
func (a *app) loadBundles() (*config.BundleFile, []config.Bundle, error) {
	bf, err := config.LoadBundles(a.cfg.Run.BundleFile)
	if err != nil {
		return nil, nil, err
	}
	bundles, err := bf.Select(a.bundle)
	if err != nil {
		return nil, nil, err
	}
	return bf, bundles, nil
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// No configuration is needed to print the version.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(a.stdout, "geopostgis %s (built %s)\n", Version, BuildTime)
			return err
		},
	}
}
