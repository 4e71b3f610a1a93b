package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/superyu1337/handbrake-go/internal/manifest"
	"github.com/superyu1337/handbrake-go/internal/queue"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue MANIFEST",
	Short: "Send the jobs of a manifest to the Kafka request topic",
	Long: `Validate every job of a manifest and write them to kafka.request_topic in
one batch, for "hbctl worker" to run. Paths must be valid on the workers.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnqueue,
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := manifest.Load(args[0])
	if err != nil {
		return err
	}
	reqs, err := m.Requests()
	if err != nil {
		return err
	}

	producer := queue.NewRequestProducer(cfg.Kafka)
	defer producer.Close()

	if err := producer.Enqueue(cmd.Context(), reqs...); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d jobs on %s\n", len(reqs), cfg.Kafka.RequestTopic)
	return nil
}
