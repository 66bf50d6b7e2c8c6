// Command pbpkgbuilder is an operator-facing CLI wrapping §4.M's Secondary
// Package Builder: given a node name, it builds the node (or reuses an
// existing one) and writes the deployment bundle ZIP to disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/Zerostate-IO/powerblockade/internal/app/pkgbuilder"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage/postgres"
	"github.com/Zerostate-IO/powerblockade/internal/platform/database"
	"github.com/Zerostate-IO/powerblockade/pkg/config"
)

func main() {
	name := flag.String("name", "", "secondary node name to build a bundle for")
	out := flag.String("out", "", "output path for the bundle zip (default: <name>.zip)")
	flag.Parse()

	if err := run(*name, *out); err != nil {
		fmt.Fprintln(os.Stderr, "pbpkgbuilder:", err)
		os.Exit(1)
	}
}

func run(name, out string) error {
	if name == "" {
		return fmt.Errorf("-name is required")
	}
	if out == "" {
		out = name + ".zip"
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	sqlDB, err := database.Open(ctx, cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqlDB.Close()

	store := postgres.New(sqlx.NewDb(sqlDB, cfg.Database.Driver))
	builder := pkgbuilder.New(store, cfg.PowerBlockade.PrimaryURL)

	bundle, err := builder.BuildPackage(ctx, name)
	if err != nil {
		return fmt.Errorf("build package for %q: %w", name, err)
	}

	if err := os.WriteFile(out, bundle.Zip, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	fmt.Printf("wrote %s for node %s (id=%s)\n", out, bundle.Node.Name, bundle.Node.ID)
	return nil
}
