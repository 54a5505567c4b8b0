package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/cobra"

	"github.com/flocksql/flock/internal/config"
	"github.com/flocksql/flock/internal/dispatch"
	"github.com/flocksql/flock/internal/domain"
	"github.com/flocksql/flock/internal/gen"
	"github.com/flocksql/flock/internal/invoke"
	"github.com/flocksql/flock/internal/partition"
	"github.com/flocksql/flock/internal/source"
	"github.com/flocksql/flock/internal/statebackend"
	"github.com/flocksql/flock/internal/subplan"
	"github.com/flocksql/flock/internal/window"
)

// schemaSource is the source.EventSource contract plus an upfront Schema
// accessor, so the demo driver can build each stage's subplan before the
// source coordinator seeds the first window.
type schemaSource interface {
	source.EventSource
	Schema() *arrow.Schema
}

func nexmarkCmd() *cobra.Command {
	var (
		seconds       int
		eventsPerSec  int
		sink          string
		async         bool
		partitions    int
	)
	cmd := &cobra.Command{
		Use:   "nexmark",
		Short: "Run the NEXMark bid-stream generator through the local dispatch pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := seconds * eventsPerSec
			src := gen.NewNexmarkSource(1, rows)
			return runDemo(cmd, "nexmark", src, "nexmark-demo", partitions, sink, async)
		},
	}
	addDemoFlags(cmd, &seconds, &eventsPerSec, &sink, &async, &partitions)
	return cmd
}

func ysbCmd() *cobra.Command {
	var (
		seconds      int
		eventsPerSec int
		sink         string
		async        bool
		partitions   int
		generators   int
	)
	cmd := &cobra.Command{
		Use:   "ysb",
		Short: "Run the Yahoo Streaming Benchmark ad-impression generator through the local dispatch pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := seconds * eventsPerSec
			src := gen.NewYSBSource(1, rows, generators)
			return runDemo(cmd, "ysb", src, "ysb-demo", partitions, sink, async)
		},
	}
	addDemoFlags(cmd, &seconds, &eventsPerSec, &sink, &async, &partitions)
	cmd.Flags().IntVar(&generators, "generators", 10, "number of distinct campaign ids to spread events across")
	return cmd
}

func fsqlCmd() *cobra.Command {
	var (
		seconds      int
		eventsPerSec int
		sink         string
		async        bool
		partitions   int
	)
	cmd := &cobra.Command{
		Use:   "fsql <query>",
		Short: "Derive a query instance from SQL text and drive it with a synthetic bid stream",
		Long: "Query planning is out of scope for this runtime; fsql hashes the given SQL text into a " +
			"query-code (the same domain.QueryCode every stage name is built from) and drives that query " +
			"instance's pipeline with the NEXMark generator, so the dispatcher's naming and routing can be " +
			"exercised against arbitrary query text without a planner.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := seconds * eventsPerSec
			src := gen.NewNexmarkSource(1, rows)
			return runDemo(cmd, "fsql", src, args[0], partitions, sink, async)
		},
	}
	addDemoFlags(cmd, &seconds, &eventsPerSec, &sink, &async, &partitions)
	return cmd
}

func addDemoFlags(cmd *cobra.Command, seconds, eventsPerSec *int, sink *string, async *bool, partitions *int) {
	cmd.Flags().IntVar(seconds, "seconds", 1, "seconds of synthetic traffic to generate")
	cmd.Flags().IntVar(eventsPerSec, "events-per-second", 1000, "synthetic events per second")
	cmd.Flags().StringVar(sink, "sink", "stdout", "terminal sink: stdout, blackhole, collector")
	cmd.Flags().BoolVar(async, "async", false, "invoke the first stage asynchronously instead of blocking for the pipeline's completion")
	cmd.Flags().IntVar(partitions, "partitions", 1, "aggregator group size the generator's stage fans into")
}

// runDemo partitions a single-exchange pipeline (source stage, optionally
// followed by one grouped aggregator stage) under queryText's query-code,
// wires every stage to a LocalInvoker-backed dispatcher, and seeds it with
// src's output via the source coordinator.
func runDemo(cmd *cobra.Command, label string, src schemaSource, queryText string, partitions int, sinkFlag string, async bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.StateBackend.Kind == config.StateBackendS3 {
		return fmt.Errorf("%s: the s3 state backend needs a deployed query; use --state-backend memory for local demos", label)
	}

	sinkKind, err := parseSinkKind(sinkFlag)
	if err != nil {
		return err
	}

	queryCode := domain.QueryCode(queryText)

	sourceNode := &partition.PlanNode{ID: "source"}
	root := sourceNode
	if partitions > 1 {
		root = &partition.PlanNode{ID: "aggregate", Exchange: true, Fanout: partitions, Child: sourceNode}
	}
	stages, err := partition.Partition(queryCode, root, sinkKind)
	if err != nil {
		return fmt.Errorf("%s: partition pipeline: %w", label, err)
	}

	groupSizes := make(map[int]int, len(stages))
	for _, st := range stages {
		if st.GroupIndex >= 0 {
			groupSizes[st.Index]++
		}
	}

	arena := window.NewArena(cfg.Dispatch.WindowTTL)
	backend := statebackend.NewInMemory()
	invoker := invoke.NewLocalInvoker()

	var mu sync.Mutex
	rowsTotal := int64(0)
	sinkFunc := func(_ context.Context, kind domain.SinkKind, batches []domain.Batch) error {
		mu.Lock()
		defer mu.Unlock()
		for _, b := range batches {
			rowsTotal += b.NumRows()
			if kind == domain.SinkStdout {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: sink received %d rows\n", label, b.NumRows())
			}
		}
		return nil
	}

	enc := domain.Encoding(cfg.Codec.Encoding)
	if enc == "" {
		enc = domain.DefaultEncoding
	}
	dispatcher := dispatch.New(arena, backend, invoker, sinkFunc, cfg.Dispatch.FanoutLimit)
	dispatcher.Encoding = enc

	schema := src.Schema()
	for _, st := range stages {
		groupIndex, groupSize := 0, 1
		if st.GroupIndex >= 0 {
			groupIndex, groupSize = st.GroupIndex, groupSizes[st.Index]
		}
		ec := domain.ExecutionContext{
			Subplan:      subplan.New(schema),
			Name:         st.Name,
			Successor:    st.Successor,
			StateBackend: domain.StateBackendInMemory,
			PlanIndex:    st.Index,
			GroupIndex:   groupIndex,
			GroupSize:    groupSize,
		}
		invoker.Register(st.Name, func(ctx context.Context, payload domain.Payload) (domain.Payload, error) {
			return domain.Payload{}, dispatcher.Dispatch(ctx, ec, payload)
		})
	}

	coord := source.New(invoker, enc)
	if _, err := coord.Run(context.Background(), stages[0].Name, queryCode, src, !async); err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: query-code %s, %d stage(s), %d row(s) reached the sink\n",
		label, queryCode, len(stages), rowsTotal)
	return nil
}

func parseSinkKind(s string) (domain.SinkKind, error) {
	switch s {
	case "stdout":
		return domain.SinkStdout, nil
	case "blackhole":
		return domain.SinkBlackhole, nil
	case "collector":
		return domain.SinkCollector, nil
	default:
		return "", fmt.Errorf("unknown sink kind %q (want stdout, blackhole, or collector)", s)
	}
}
