package root

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drblury/eventscore"
	"github.com/drblury/eventscore/event"
)

type tailOptions struct {
	eventType string
	group     string
	clones    int
	max       int
	admin     bool
}

func newTailCommand() *cobra.Command {
	opts := &tailOptions{}
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Prints the events a consumer group receives",
		Long: `Registers a printing consumer for one event type and group, spawns its
worker and writes every event as a JSON line. Stops after --max events per
clone or on SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max") {
				cfg.MaxEvents = opts.max
			}
			if opts.admin {
				cfg.AdminEnabled = true
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := newService(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			err = svc.RegisterConsumer(printer(cmd.OutOrStdout()),
				event.Type(opts.eventType), event.Group(opts.group),
				eventscore.WithClones(opts.clones), eventscore.WithIdentity("eventscore.tail"))
			if err != nil {
				_ = svc.Close()
				return err
			}
			return svc.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&opts.eventType, "type", "", "event type to follow (required)")
	cmd.Flags().StringVar(&opts.group, "group", "eventscore-tail", "consumer group")
	cmd.Flags().IntVar(&opts.clones, "clones", 1, "concurrent runner clones")
	cmd.Flags().IntVar(&opts.max, "max", eventscore.Unbounded, "events per clone before exiting, -1 for no limit")
	cmd.Flags().BoolVar(&opts.admin, "admin", false, "serve the admin API while tailing")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

type tailLine struct {
	ID        string        `json:"id"`
	Type      event.Type    `json:"type"`
	CreatedAt string        `json:"created_at"`
	Payload   event.Payload `json:"payload"`
}

func printer(w io.Writer) eventscore.ConsumerFunc {
	var mu sync.Mutex
	return func(_ context.Context, evt event.Event) error {
		line, err := eventscore.Marshal(tailLine{
			ID:        evt.ID.String(),
			Type:      evt.Type,
			CreatedAt: evt.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Payload:   evt.Payload,
		})
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		_, err = fmt.Fprintln(w, string(line))
		return err
	}
}
