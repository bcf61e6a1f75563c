package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-i2p/packettunnel/lib/errors"
	"github.com/go-i2p/packettunnel/lib/tunnelstate"
)

func newInspectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [FILE]",
		Short: "Decode a state snapshot and explain it",
		Long:  "Decode a state snapshot written by the tunnel service. Without FILE the snapshot in the configured data directory is read.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				path = cfg.SnapshotPath()
			}

			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					return errors.Wrap(errors.CodeNotFound, "snapshot not found: "+path, errors.ErrNotFound)
				}
				return fmt.Errorf("reading snapshot: %w", err)
			}

			state, err := tunnelstate.UnmarshalState(data)
			if err != nil {
				return errors.Wrap(errors.CodeValidation, "decoding snapshot", err)
			}
			return describeState(cmd.OutOrStdout(), state)
		},
	}
}

// describeState prints what a controller would decide for state.
func describeState(w io.Writer, state tunnelstate.State) error {
	target, ok := tunnelstate.TargetForReconnect(state)
	reconnect := "rejected"
	if ok {
		reconnect = target.String()
	}

	lines := [][2]string{
		{"state", state.Name()},
		{"log", tunnelstate.LogFormat(state)},
		{"reconnect", reconnect},
	}
	if policy, ok := tunnelstate.KeyPolicyOf(state); ok {
		lines = append(lines, [2]string{"key policy", policy.String()})
	}
	if d, ok := tunnelstate.ConnectionDataOf(state); ok {
		lines = append(lines,
			[2]string{"exit", d.SelectedRelays.Exit.Hostname},
			[2]string{"attempt", fmt.Sprint(d.ConnectionAttemptCount)},
		)
		if d.SelectedRelays.Entry != nil {
			lines = append(lines, [2]string{"entry", d.SelectedRelays.Entry.Hostname})
		}
	}
	if b, ok := tunnelstate.BlockedDataOf(state); ok {
		prior := tunnelstate.State(tunnelstate.Initial{})
		if b.PriorState != nil {
			prior = b.PriorState
		}
		lines = append(lines,
			[2]string{"reason", b.Reason.String()},
			[2]string{"auto restart", fmt.Sprint(b.Reason.ShouldRestartAutomatically())},
			[2]string{"prior state", prior.Name()},
		)
		if !b.LastKeyRotation.IsZero() {
			lines = append(lines, [2]string{"last rotation", b.LastKeyRotation.UTC().Format("2006-01-02T15:04:05Z")})
		}
	}

	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%-14s %s\n", l[0]+":", l[1]); err != nil {
			return err
		}
	}
	return nil
}
