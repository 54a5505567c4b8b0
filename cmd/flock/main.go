// Command flock drives the dispatcher pipeline from the command line: it
// wires the generators, dispatcher, window arena and state backend this
// repository ships into runnable demos and a handful of deployment
// helpers. None of this is on the dispatcher's hot path (spec §1
// Non-goals exclude a query planner and a deployment tool); it exists so
// the pipeline has something to drive end to end without a cloud account.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flocksql/flock/internal/config"
)

var (
	configFile   string
	stateBackend string
	region       string
	bucket       string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flock",
		Short: "Flock - SQL dataflow over short-lived cloud function invocations",
		Long:  "A dispatcher for streaming SQL queries executed as a graph of stateless cloud function invocations",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (optional, flags override)")
	rootCmd.PersistentFlags().StringVar(&stateBackend, "state-backend", "memory", "state backend: memory, s3")
	rootCmd.PersistentFlags().StringVar(&region, "region", "", "AWS region (s3, lambda backends)")
	rootCmd.PersistentFlags().StringVar(&bucket, "bucket", "", "S3 bucket name stored in the config (the s3 state backend always uses the query's qid as its bucket)")

	rootCmd.AddCommand(
		nexmarkCmd(),
		ysbCmd(),
		fsqlCmd(),
		s3Cmd(),
		lambdaCmd(),
		archCmd(),
		daemonCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)
	if stateBackend != "" {
		cfg.StateBackend.Kind = config.StateBackendKind(stateBackend)
	}
	if region != "" {
		cfg.StateBackend.Region = region
		cfg.Lambda.Region = region
	}
	if bucket != "" {
		cfg.StateBackend.Bucket = bucket
	}
	return cfg, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the flock version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("flock dev")
			return nil
		},
	}
}
