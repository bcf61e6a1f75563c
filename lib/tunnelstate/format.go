package tunnelstate

import "fmt"

// LogFormat renders s for log sinks.
//
// Connecting, Connected and Reconnecting render as
//
//	<name> to entry: <entry host|omitted>, exit: <exit host>, key: <policy>, net: <reachability>, attempt: <count>
//
// Error renders as "Error: <reason>". Every other state renders as its name.
func LogFormat(s State) string {
	return s.logFormat()
}

func formatConnection(name string, d ConnectionData) string {
	entry := "omitted"
	if d.SelectedRelays.Entry != nil {
		entry = d.SelectedRelays.Entry.Hostname
	}
	return fmt.Sprintf("%s to entry: %s, exit: %s, key: %s, net: %s, attempt: %d",
		name,
		entry,
		d.SelectedRelays.Exit.Hostname,
		d.KeyPolicy,
		d.Reachability,
		d.ConnectionAttemptCount,
	)
}

func (s Initial) logFormat() string                  { return s.Name() }
func (s Connecting) logFormat() string               { return formatConnection(s.Name(), s.Data) }
func (s Connected) logFormat() string                { return formatConnection(s.Name(), s.Data) }
func (s Reconnecting) logFormat() string             { return formatConnection(s.Name(), s.Data) }
func (s NegotiatingEphemeralPeer) logFormat() string { return s.Name() }
func (s Disconnecting) logFormat() string            { return s.Name() }
func (s Disconnected) logFormat() string             { return s.Name() }
func (s Error) logFormat() string                    { return fmt.Sprintf("%s: %s", s.Name(), s.Data.Reason) }
