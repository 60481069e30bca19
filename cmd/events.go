/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/ecosort/apiserver/internal/mq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// eventsCmd represents the events command.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect analysis events on the configured message queue",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Log every analysis.created event until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if queue == nil {
			return errors.New("MQ_DRIVER is not configured")
		}
		defer queue.Close()

		logger.Info("tailing analysis events",
			zap.String("driver", cfg.MQ.Driver),
			zap.String("channel", cfg.MQ.AnalysisChannel))

		err = queue.Subscribe(ctx, cfg.MQ.AnalysisChannel, func(_ context.Context, msg mq.Message) error {
			analysis, err := mq.DecodeAnalysis(msg)
			if err != nil {
				// Unparseable payloads would be redelivered forever.
				logger.Warn("skipping malformed event", zap.String("message_id", msg.ID), zap.Error(err))
				return nil
			}
			logger.Info(msg.Attributes[mq.AttrEvent],
				zap.String("message_id", msg.ID),
				zap.Int("analysis_id", analysis.ID),
				zap.Int("user_id", analysis.UserID),
				zap.String("device_type", analysis.DeviceType),
				zap.String("condition", string(analysis.Condition)),
				zap.String("remaining_lifespan", analysis.RemainingLifespan))
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("subscribe %s: %w", cfg.MQ.AnalysisChannel, err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
