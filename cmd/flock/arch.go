package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flocksql/flock/internal/domain"
	"github.com/flocksql/flock/internal/partition"
)

func archCmd() *cobra.Command {
	var (
		query       string
		partitions  int
		sink        string
		distributed bool
	)

	cmd := &cobra.Command{
		Use:   "arch",
		Short: "Print the stage graph a query would partition into",
		Long: "Prints the deployed stage names, successors, and group sizes partition.Partition " +
			"would produce for a single-exchange pipeline, without invoking anything. The --distributed " +
			"flag only changes the printed note about which invoke.Invoker a deployment would use; stage " +
			"naming and routing are identical either way (spec §4.6 is invoker-agnostic).",
		RunE: func(cmd *cobra.Command, args []string) error {
			sinkKind, err := parseSinkKind(sink)
			if err != nil {
				return err
			}

			queryCode := domain.QueryCode(query)
			sourceNode := &partition.PlanNode{ID: "source"}
			root := sourceNode
			if partitions > 1 {
				root = &partition.PlanNode{ID: "aggregate", Exchange: true, Fanout: partitions, Child: sourceNode}
			}
			stages, err := partition.Partition(queryCode, root, sinkKind)
			if err != nil {
				return err
			}

			invoker := "local in-process"
			if distributed {
				invoker = "AWS Lambda"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "query-code: %s (invoker: %s)\n\n", queryCode, invoker)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tNAME\tAGGREGATOR\tSUCCESSOR")
			for _, st := range stages {
				fmt.Fprintf(w, "%d\t%s\t%v\t%s\n", st.Index, st.Name, domain.IsAggregatorName(st.Name), describeSuccessor(st.Successor))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&query, "query", "select * from bids", "query text the stage graph's query-code is derived from")
	cmd.Flags().IntVar(&partitions, "partitions", 1, "aggregator group size the source stage fans into")
	cmd.Flags().StringVar(&sink, "sink", "stdout", "terminal sink: stdout, blackhole, collector")
	cmd.Flags().BoolVar(&distributed, "distributed", false, "describe a Lambda-backed deployment instead of a local one")

	return cmd
}

func describeSuccessor(s domain.Successor) string {
	switch succ := s.(type) {
	case domain.SinkSuccessor:
		return fmt.Sprintf("sink(%s)", succ.Kind)
	case domain.PointSuccessor:
		return fmt.Sprintf("point(%s)", succ.Name)
	case domain.GroupSuccessor:
		return fmt.Sprintf("group(%s-*, size=%d)", succ.Prefix, succ.Size)
	default:
		return fmt.Sprintf("%T", s)
	}
}
