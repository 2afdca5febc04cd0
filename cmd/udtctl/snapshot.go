package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/oldsharp/udtschema/internal/app"
	"github.com/oldsharp/udtschema/internal/catalog"
	"github.com/oldsharp/udtschema/internal/config"
	"github.com/oldsharp/udtschema/internal/storage"
	"github.com/spf13/cobra"
)

// snapshotEnv is the catalog and snapshot store a snapshot command works on.
// It opens the catalog database directly, so udtd must not be running.
type snapshotEnv struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	objects storage.ObjectStorage
}

func openSnapshotEnv(ctx context.Context, configFile, dataDir string, withCatalog bool) (*snapshotEnv, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			return nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.Resolve()
	if cfg.Snapshots.Type == config.SnapshotsNone || cfg.Snapshots.Type == "" {
		return nil, fmt.Errorf("no snapshot store is configured")
	}

	objects, err := app.OpenSnapshotStorage(ctx, cfg.Snapshots)
	if err != nil {
		return nil, err
	}
	env := &snapshotEnv{cfg: cfg, objects: objects}
	if !withCatalog {
		return env, nil
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	store, err := catalog.OpenStore(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog store: %w", err)
	}
	env.catalog, err = catalog.Open(ctx, store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return env, nil
}

func (e *snapshotEnv) Close() error {
	if e.catalog != nil {
		return e.catalog.Close()
	}
	return nil
}

func newSnapshotCmd() *cobra.Command {
	var configFile, dataDir string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export, list, prune and restore schema snapshots",
		Long: `Snapshot commands read the udtd configuration and work on its catalog
database and snapshot store directly. Stop udtd before exporting or restoring.`,
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "udtd configuration file (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "udtd data directory")

	export := &cobra.Command{
		Use:   "export [KEYSPACE...]",
		Short: "Write a snapshot of each keyspace (all keyspaces by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openSnapshotEnv(ctx, configFile, dataDir, true)
			if err != nil {
				return err
			}
			defer env.Close()

			keyspaces := args
			if len(keyspaces) == 0 {
				keyspaces = env.catalog.Keyspaces()
			}
			for _, ks := range keyspaces {
				p, err := env.catalog.ExportSnapshot(ctx, env.objects, ks)
				if err != nil {
					return fmt.Errorf("export %s: %w", ks, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots (the newest per keyspace by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openSnapshotEnv(cmd.Context(), configFile, dataDir, false)
			if err != nil {
				return err
			}
			infos, err := catalog.ListSnapshots(cmd.Context(), env.objects)
			if err != nil {
				return err
			}
			if !all {
				infos = newestPerKeyspace(infos)
			}
			return printSnapshots(cmd.OutOrStdout(), infos)
		},
	}
	list.Flags().BoolVar(&all, "all", false, "List every stored version")

	var keep int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest snapshots of every keyspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openSnapshotEnv(cmd.Context(), configFile, dataDir, false)
			if err != nil {
				return err
			}
			n := keep
			if n == 0 {
				n = env.cfg.Snapshots.Retain
			}
			if n <= 0 {
				return fmt.Errorf("give --keep or configure snapshots.retain")
			}
			deleted, err := catalog.PruneSnapshots(cmd.Context(), env.objects, n)
			for _, p := range deleted {
				fmt.Fprintln(cmd.OutOrStdout(), "deleted", p)
			}
			return err
		},
	}
	prune.Flags().IntVar(&keep, "keep", 0, "Snapshots to keep per keyspace (default: snapshots.retain)")

	var as, path string
	restore := &cobra.Command{
		Use:   "restore KEYSPACE",
		Short: "Recreate a keyspace from its newest snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openSnapshotEnv(ctx, configFile, dataDir, true)
			if err != nil {
				return err
			}
			defer env.Close()

			objectPath := path
			if objectPath == "" {
				latest, err := catalog.LatestSnapshotPaths(ctx, env.objects)
				if err != nil {
					return err
				}
				var ok bool
				if objectPath, ok = latest[args[0]]; !ok {
					return fmt.Errorf("no snapshot of keyspace %s", args[0])
				}
			}
			snap, err := catalog.LoadSnapshot(ctx, env.objects, objectPath)
			if err != nil {
				return err
			}
			if err := env.catalog.RestoreSnapshot(ctx, snap, as); err != nil {
				return err
			}
			target := as
			if target == "" {
				target = snap.Keyspace
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s from %s (version %d, %d types, %d tables)\n",
				target, objectPath, snap.Version, len(snap.Types), len(snap.Tables))
			return nil
		},
	}
	restore.Flags().StringVar(&as, "as", "", "Restore under a different keyspace name")
	restore.Flags().StringVar(&path, "path", "", "Restore this snapshot object instead of the newest")

	cmd.AddCommand(export, list, prune, restore)
	return cmd
}

// newestPerKeyspace keeps the last entry of each keyspace run. infos is
// ordered by keyspace, then version.
func newestPerKeyspace(infos []catalog.SnapshotInfo) []catalog.SnapshotInfo {
	var out []catalog.SnapshotInfo
	for i, info := range infos {
		if i+1 < len(infos) && infos[i+1].Keyspace == info.Keyspace {
			continue
		}
		out = append(out, info)
	}
	return out
}

func printSnapshots(out io.Writer, infos []catalog.SnapshotInfo) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEYSPACE\tVERSION\tSIZE\tMODIFIED\tPATH")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
			info.Keyspace, info.Version, info.Size, info.ModTime.UTC().Format(time.RFC3339), info.Path)
	}
	return tw.Flush()
}
