// Command trigger puts sync triggers and push payloads on the edge's events queue.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"attendance.edge/internal/config"
	"attendance.edge/internal/ports/messaging"
	"attendance.edge/pkg/aws"
	"attendance.edge/pkg/logger"
	"attendance.edge/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

var (
	cfg      config.Config
	producer messaging.TriggerProducer
	shutdown func(context.Context) error

	RootCmd = &cobra.Command{
		Use:               "trigger",
		Short:             "Send sync triggers and push notifications to the attendance edge",
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if shutdown != nil {
				_ = shutdown(context.Background())
			}
		},
		SilenceUsage: true,
	}

	queueURL string
	timeout  time.Duration
)

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.LoadConfig()
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}
	logger.Setup(cfg.IsLocalDev)

	shutdown, err = telemetry.InitTracer("attendance-trigger", cfg.OTelExporter, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init tracer: %w", err)
	}

	if queueURL == "" {
		queueURL = cfg.EventsSQSQueueURL
	}
	if queueURL == "" {
		return errors.New("no events queue: set EVENTS_SQS_QUEUE_URL or --queue-url")
	}

	awsCfg, err := aws.NewAWSConfig(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("unable to load SDK config: %w", err)
	}
	producer = messaging.NewSQSProducer(sqs.NewFromConfig(awsCfg), queueURL)
	return nil
}

var syncCmd = &cobra.Command{
	Use:   "sync [tag]",
	Short: "Ask the edge to drain its offline queue",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tag := cfg.SyncTag
		if len(args) == 1 {
			tag = args[0]
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		ctx, span := otel.Tracer("trigger-cli").Start(ctx, "publish_sync")
		defer span.End()

		if err := producer.PublishSync(ctx, tag); err != nil {
			return err
		}
		log.Info().Str("tag", tag).Msg("Sync trigger sent")
		return nil
	},
}

var (
	pushTitle string
	pushBody  string
	pushURL   string
	pushStdin bool
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Send a push payload to the notification dispatcher",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := pushPayload(cmd.InOrStdin())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		ctx, span := otel.Tracer("trigger-cli").Start(ctx, "publish_push")
		defer span.End()

		if err := producer.PublishPush(ctx, payload); err != nil {
			return err
		}
		log.Info().RawJSON("payload", payload).Msg("Push sent")
		return nil
	},
}

// pushPayload builds the payload from flags, or passes stdin through untouched with --stdin.
func pushPayload(stdin io.Reader) (json.RawMessage, error) {
	if pushStdin {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		return raw, nil
	}

	p := map[string]string{}
	if pushTitle != "" {
		p["title"] = pushTitle
	}
	if pushBody != "" {
		p["body"] = pushBody
	}
	if pushURL != "" {
		p["url"] = pushURL
	}
	return json.Marshal(p)
}

func main() {
	RootCmd.PersistentFlags().StringVar(&queueURL, "queue-url", "", "events queue URL (default $EVENTS_SQS_QUEUE_URL)")
	RootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "send timeout")

	pushCmd.Flags().StringVar(&pushTitle, "title", "", "notification title")
	pushCmd.Flags().StringVar(&pushBody, "body", "", "notification body")
	pushCmd.Flags().StringVar(&pushURL, "url", "", "path to open in the app")
	pushCmd.Flags().BoolVar(&pushStdin, "stdin", false, "read the raw payload from stdin")

	RootCmd.AddCommand(syncCmd, pushCmd)

	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
