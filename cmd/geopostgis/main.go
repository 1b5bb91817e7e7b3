package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/JonMunkholm/geopostgis/internal/cli"
	"github.com/JonMunkholm/geopostgis/internal/config"
)

func main() {
	rootCmd := cli.NewRootCommand(os.Stdout, os.Stderr)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, config.ErrNoBundles) {
			fmt.Fprintln(os.Stderr, "nothing to do: check the bundle file and --bundle")
		}
		os.Exit(1)
	}
}
