package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEmitCmd(a *app) *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "emit EVENT",
		Short: "Append a single event to the event log",
		Long: `Append a single event to the event log without running any tasks.
Use this to record external facts for a later replay.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer func() { _ = eng.close(cmd.Context()) }()

			evt, err := eng.bus.Publish(cmd.Context(), args[0], parsePayload(payload))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), evt.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "Event payload as JSON (non-JSON is sent as a string)")
	return cmd
}
