package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/nerrad567/embedded-vault/internal/infrastructure/mqtt"
)

func newEventsCommand(root *rootOptions) *cobra.Command {
	var states bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow lifecycle events published to the MQTT broker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}

			client, err := mqtt.Connect(cfg.MQTT)
			if err != nil {
				return fmt.Errorf("connecting to MQTT: %w", err)
			}
			defer client.Close()
			client.SetLogger(log)

			topic := client.Topics().AllLifecycle()
			if states {
				topic = client.Topics().AllStates()
			}

			var mu sync.Mutex
			out := cmd.OutOrStdout()
			if err := client.Subscribe(topic, byte(cfg.MQTT.QoS), func(topic string, payload []byte) error {
				mu.Lock()
				defer mu.Unlock()
				return printEvent(out, client.Topics(), topic, payload)
			}); err != nil {
				return err
			}
			log.Info("following lifecycle events", "topic", topic)

			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&states, "states", false, "follow the retained per-server state instead of events")
	return cmd
}

// printEvent writes one event or state message as a single line.
func printEvent(out io.Writer, topics mqtt.Topics, topic string, payload []byte) error {
	id, ok := topics.ServerID(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}
	if len(payload) == 0 {
		_, err := fmt.Fprintf(out, "%s cleared\n", id)
		return err
	}
	if !gjson.ValidBytes(payload) {
		return fmt.Errorf("payload on %s is not JSON", topic)
	}

	msg := gjson.ParseBytes(payload)
	kind := msg.Get("kind").String()
	at := msg.Get("time").String()
	if kind == "" {
		kind = msg.Get("state").String()
		at = msg.Get("updated_at").String()
	}

	line := fmt.Sprintf("%s %s %s", at, id, kind)
	if pid := msg.Get("pid"); pid.Exists() {
		line += fmt.Sprintf(" pid=%d", pid.Int())
	}
	if addr := msg.Get("address"); addr.Exists() {
		line += " address=" + addr.String()
	}
	if errText := msg.Get("error"); errText.Exists() {
		line += fmt.Sprintf(" error=%q", errText.String())
	}
	_, err := fmt.Fprintln(out, line)
	return err
}
