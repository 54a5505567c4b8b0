package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/flocksql/flock/internal/domain"
	"github.com/flocksql/flock/internal/invoke"
	"github.com/flocksql/flock/internal/statebackend"
)

func s3Cmd() *cobra.Command {
	var qid string

	cmd := &cobra.Command{
		Use:   "s3",
		Short: "List the partitions a query instance has persisted to its state backend bucket",
		Long:  "Lists every (plan-index, shuffle-id, seq_num) key currently stored under --qid's bucket (spec §6 object-store layout).",
		RunE: func(cmd *cobra.Command, args []string) error {
			if qid == "" {
				return fmt.Errorf("s3: --qid is required")
			}
			ctx := context.Background()
			awsCfg, err := loadAWSConfig(ctx)
			if err != nil {
				return fmt.Errorf("s3: %w", err)
			}
			backend := statebackend.NewObjectStore(s3.NewFromConfig(awsCfg))
			entries, err := backend.ReadAll(ctx, qid)
			if err != nil {
				return fmt.Errorf("s3: read bucket %s: %w", qid, err)
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no partitions found under %s\n", qid)
				return nil
			}
			for key, raw := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%02d/%02d/%d\t%d bytes\n", key.PlanIndex, key.ShuffleID, key.SeqNum, len(raw))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&qid, "qid", "", "query instance id (also the bucket name)")
	return cmd
}

func lambdaCmd() *cobra.Command {
	var (
		stageName   string
		payloadFile string
		sync        bool
	)

	cmd := &cobra.Command{
		Use:   "lambda",
		Short: "Invoke one deployed stage as an AWS Lambda function",
		Long:  "Sends a single codec-encoded payload to a stage's deployed Lambda function and, if --sync, prints its response.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stageName == "" {
				return fmt.Errorf("lambda: --stage is required")
			}
			if err := domain.ValidateName(stageName); err != nil {
				return fmt.Errorf("lambda: %w", err)
			}

			raw, err := os.ReadFile(payloadFile)
			if err != nil {
				return fmt.Errorf("lambda: read payload file: %w", err)
			}
			var payload domain.Payload
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("lambda: decode payload file: %w", err)
			}

			ctx := context.Background()
			awsCfg, err := loadAWSConfig(ctx)
			if err != nil {
				return fmt.Errorf("lambda: %w", err)
			}
			invoker := invoke.NewLambdaInvoker(lambda.NewFromConfig(awsCfg))

			resp, err := invoker.Invoke(ctx, stageName, payload, sync)
			if err != nil {
				return fmt.Errorf("lambda: %w", err)
			}
			if sync {
				out, err := json.MarshalIndent(resp, "", "  ")
				if err != nil {
					return fmt.Errorf("lambda: encode response: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "invoked %s asynchronously\n", stageName)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&stageName, "stage", "", "deployed stage name to invoke")
	cmd.Flags().StringVar(&payloadFile, "payload", "", "path to a JSON-encoded domain.Payload")
	cmd.Flags().BoolVar(&sync, "sync", true, "wait for the stage's response")
	return cmd
}

func loadAWSConfig(ctx context.Context) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
