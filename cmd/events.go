/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tourfolio/apiserver/config"
	"github.com/tourfolio/apiserver/internal/logging"
	"github.com/tourfolio/apiserver/internal/mq"
	"github.com/tourfolio/apiserver/internal/server"
)

// eventsCmd tails the auth-events topic, for operational debugging.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Tail authentication events from the configured broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()

		broker, err := server.NewBroker(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if broker == nil {
			return errors.New("no mq backend configured (set MQ_BACKEND)")
		}
		defer func() {
			_ = broker.Close()
		}()

		log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
		publisher := mq.NewPublisher(broker, log)

		return publisher.Tail(cmd.Context(), func(event mq.Event) error {
			fmt.Printf("%s\t%s\t%s\t%s\n", event.At.Format("2006-01-02T15:04:05Z07:00"), event.ID, event.Type, event.Email)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}
