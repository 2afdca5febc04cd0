// Package main implements udtd, the user type schema service. It serves the
// statement API over HTTP and gRPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/oldsharp/udtschema/internal/app"
	"github.com/oldsharp/udtschema/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

// flagOverrides holds command line values that take precedence over the
// config file and environment.
type flagOverrides struct {
	dataDir         string
	httpAddr        string
	grpcAddr        string
	snapshotType    string
	defaultKeyspace string
}

func main() {
	var (
		configFile  string
		overrides   flagOverrides
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&overrides.dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&overrides.httpAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&overrides.grpcAddr, "grpc-addr", "", "gRPC listen address")
	flag.StringVar(&overrides.snapshotType, "snapshots", "", "Snapshot store: none, local, s3")
	flag.StringVar(&overrides.defaultKeyspace, "keyspace", "", "Default session keyspace")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "udtd - user-defined type schema service\n\n")
		fmt.Fprintf(os.Stderr, "Usage: udtd [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  udtd --data-dir /var/lib/udt\n")
		fmt.Fprintf(os.Stderr, "  udtd --config /etc/udt/udtd.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  UDT_DATA_DIR        Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  UDT_HTTP_ADDR       HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  UDT_GRPC_ADDR       gRPC listen address\n")
		fmt.Fprintf(os.Stderr, "  UDT_SNAPSHOTS_TYPE  Snapshot store (none, local, s3)\n")
		fmt.Fprintf(os.Stderr, "  UDT_S3_BUCKET       Snapshot bucket for the s3 store\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		fmt.Printf("udtd version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, overrides)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	printBanner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
	if err := application.WaitForShutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile string, o flagOverrides) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	}

	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.httpAddr != "" {
		cfg.HTTP.Addr = o.httpAddr
	}
	if o.grpcAddr != "" {
		cfg.GRPC.Addr = o.grpcAddr
	}
	if o.snapshotType != "" {
		cfg.Snapshots.Type = o.snapshotType
	}
	if o.defaultKeyspace != "" {
		cfg.Executor.DefaultKeyspace = o.defaultKeyspace
	}
	return cfg, nil
}

// printBanner logs a configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("udtd %s (commit %s)", version, commit)
	log.Printf("Configuration:")
	log.Printf("  Data Dir:  %s", cfg.DataDir)
	log.Printf("  Catalog:   %s", cfg.Catalog.Path)
	log.Printf("  Rows:      %s", cfg.Rows.Path)
	log.Printf("  Snapshots: %s", cfg.Snapshots.Type)
	if cfg.HTTP.Enabled {
		log.Printf("  HTTP:      %s", cfg.HTTP.Addr)
	}
	if cfg.GRPC.Enabled {
		log.Printf("  gRPC:      %s", cfg.GRPC.Addr)
	}
	if cfg.Executor.DefaultKeyspace != "" {
		log.Printf("  Keyspace:  %s", cfg.Executor.DefaultKeyspace)
	}
}
