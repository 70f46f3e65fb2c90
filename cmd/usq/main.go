// Command usq queries the UroscanSeq cohort bundle: filtered metadata tables,
// expression matrices, PAD lookups and logged cell corrections.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	verbose    bool
	metrics    bool
	tracePath  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "usq:", err)
		stop()
		os.Exit(1)
	}
}

// execute runs one command line. The app opened by the command is closed, and
// metrics dumped when requested, whether or not the command succeeds.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts := &rootOptions{}
	var a *app
	root := &cobra.Command{
		Use:           "usq",
		Short:         "Query the UroscanSeq cohort bundle",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			a, err = openApp(cmd.Context(), *opts)
			return err
		},
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("USQ_CONFIG"), "path to the YAML configuration file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level and narrate accessor steps")
	root.PersistentFlags().BoolVar(&opts.metrics, "metrics", false, "dump usq_* metrics to stderr after the command")
	root.PersistentFlags().StringVar(&opts.tracePath, "trace", "", "append one JSON line per service operation to this file")

	current := func() *app { return a }
	root.AddCommand(
		newMetadataCmd(current, opts),
		newExpressionsCmd(current),
		newPADCmd(current),
		newEditCellCmd(current),
		newChangeLogCmd(current),
	)

	err := root.ExecuteContext(ctx)
	if a == nil {
		return err
	}
	if opts.metrics {
		err = errors.Join(err, a.writeMetrics(stderr))
	}
	return errors.Join(err, a.Close())
}
