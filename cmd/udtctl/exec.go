package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	grpcapi "github.com/oldsharp/udtschema/internal/api/grpc"
	"github.com/spf13/cobra"
)

// clientFlags are shared by commands that talk to udtd.
type clientFlags struct {
	addr     string
	keyspace string
	timeout  time.Duration
	asJSON   bool
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "localhost:9090", "udtd gRPC address")
	cmd.Flags().StringVarP(&f.keyspace, "keyspace", "k", "", "Session keyspace")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 30*time.Second, "Request timeout")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Print results as JSON")
}

// run sends cql to udtd and prints the reply to out.
func (f *clientFlags) run(out io.Writer, cql string) error {
	client, conn, err := grpcapi.Dial(f.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", f.addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	reply, err := client.Execute(ctx, f.keyspace, cql, "")
	if err != nil {
		return err
	}
	if f.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}
	return printReply(out, reply)
}

func newExecCmd() *cobra.Command {
	var (
		flags clientFlags
		file  string
	)
	cmd := &cobra.Command{
		Use:   "exec [CQL]",
		Short: "Run CQL statements",
		Long: `Run one or more ;-separated CQL statements in a single session.
Statements come from the argument, from --file, or from stdin when neither
is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cql, err := readScript(cmd.InOrStdin(), args, file)
			if err != nil {
				return err
			}
			return flags.run(cmd.OutOrStdout(), cql)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read statements from a file")
	return cmd
}

func newTypesCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "types KEYSPACE",
		Short: "List the user types of a keyspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cql := fmt.Sprintf("SELECT type_name, field_names, field_types FROM system.schema_usertypes WHERE keyspace_name = '%s'",
				strings.ReplaceAll(args[0], "'", "''"))
			return flags.run(cmd.OutOrStdout(), cql)
		},
	}
	flags.register(cmd)
	return cmd
}

// readScript picks the statements from args, a file, or stdin.
func readScript(stdin io.Reader, args []string, file string) (string, error) {
	switch {
	case len(args) == 1 && file != "":
		return "", fmt.Errorf("give statements as an argument or with --file, not both")
	case len(args) == 1:
		return args[0], nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
}

// printReply writes schema changes as one line each and row results as
// aligned tables.
func printReply(out io.Writer, reply *grpcapi.ExecuteReply) error {
	for _, res := range reply.Results {
		switch {
		case res.Change != nil:
			name := res.Change.Keyspace
			if res.Change.Name != "" {
				name += "." + res.Change.Name
			}
			fmt.Fprintf(out, "%s %s %s\n", res.Change.Change, res.Change.Target, name)
		case len(res.Columns) > 0:
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
			for _, row := range res.Rows {
				fmt.Fprintln(tw, strings.Join(row, "\t"))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "(%d rows)\n", len(res.Rows))
		}
	}
	return nil
}
