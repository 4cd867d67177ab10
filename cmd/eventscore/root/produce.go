package root

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/stream"
)

type produceOptions struct {
	eventType string
	values    []string
	ints      []string
	noBlock   bool
}

func newProduceCommand() *cobra.Command {
	opts := &produceOptions{}
	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Puts one event on the stream",
		Long: `Puts one event on the stream. For instance:

  eventscore produce --type orders --set customer=ada --int amount=42
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			evt, err := opts.build()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			svc, err := newService(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.Produce(cmd.Context(), evt, stream.WithBlock(!opts.noBlock)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), evt.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.eventType, "type", "", "event type (required)")
	cmd.Flags().StringArrayVar(&opts.values, "set", nil, "string payload entry key=value, repeatable")
	cmd.Flags().StringArrayVar(&opts.ints, "int", nil, "integer payload entry key=n, repeatable")
	cmd.Flags().BoolVar(&opts.noBlock, "no-block", false, "fail instead of waiting when the stream cannot take the event")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func (o *produceOptions) build() (event.Event, error) {
	payload := make(map[string]any, len(o.values)+len(o.ints))
	for _, kv := range o.values {
		k, v, err := splitPair(kv)
		if err != nil {
			return event.Event{}, err
		}
		payload[k] = v
	}
	for _, kv := range o.ints {
		k, v, err := splitPair(kv)
		if err != nil {
			return event.Event{}, err
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return event.Event{}, fmt.Errorf("--int %s: %w", kv, err)
		}
		payload[k] = n
	}
	return event.New(event.Type(o.eventType), payload)
}

func splitPair(kv string) (string, string, error) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return "", "", fmt.Errorf("expected key=value, got %q", kv)
	}
	return k, v, nil
}
