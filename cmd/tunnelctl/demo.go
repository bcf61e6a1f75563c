package main

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/go-i2p/packettunnel/lib/actor"
	"github.com/go-i2p/packettunnel/lib/core"
	"github.com/go-i2p/packettunnel/lib/errors"
	"github.com/go-i2p/packettunnel/lib/metrics"
	"github.com/go-i2p/packettunnel/lib/tunnelstate"
	"github.com/go-i2p/packettunnel/lib/validation"
)

// demoRelays is the relay list the demo selects from.
var demoRelays = []struct {
	hostname string
	endpoint string
}{
	{"se-got-wg-001", "185.213.154.68:51820"},
	{"se-got-wg-002", "185.213.154.69:51820"},
	{"se-sto-wg-001", "185.65.135.80:51820"},
	{"de-fra-wg-001", "185.209.196.70:51820"},
}

type demoOptions struct {
	dataDir         string
	showMetrics     bool
	eventTimeout    time.Duration
	restartInterval time.Duration
	deviceKey       string
}

func newDemoCmd(opts *options) *cobra.Command {
	var demo demoOptions

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Drive a tunnel actor through a full lifecycle",
		Long: "Run a tunnel actor against a static relay list: connect, negotiate, rotate the key, " +
			"reconnect, block on a tunnel adapter fault, restart automatically and stop. " +
			"Every event is printed and the final state is written as a snapshot.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if demo.dataDir != "" {
				cfg.Tunnel.DataDir = demo.dataDir
			}
			if demo.restartInterval > 0 {
				cfg.Restart.Interval = core.Duration(demo.restartInterval)
			}
			return runDemo(cmd.Context(), cmd.OutOrStdout(), cfg, opts, demo)
		},
	}

	cmd.Flags().StringVar(&demo.dataDir, "data-dir", "", "Data directory for the final snapshot (overrides config)")
	cmd.Flags().BoolVar(&demo.showMetrics, "metrics", false, "Print metrics in Prometheus format when done")
	cmd.Flags().DurationVar(&demo.eventTimeout, "timeout", 5*time.Second, "How long to wait for the automatic restart after the restart interval")
	cmd.Flags().DurationVar(&demo.restartInterval, "restart-interval", 200*time.Millisecond, "Automatic restart interval (0 keeps the configured one)")
	cmd.Flags().StringVar(&demo.deviceKey, "key", "", "Base64 WireGuard private key for the device (default: generated)")
	return cmd
}

func newDemoSelector() (*actor.StaticRelaySelector, error) {
	relays := make([]tunnelstate.Relay, 0, len(demoRelays))
	for _, r := range demoRelays {
		key, err := wgtypes.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("generating relay key: %w", err)
		}
		relays = append(relays, tunnelstate.Relay{
			Hostname:  r.hostname,
			Endpoint:  netip.MustParseAddrPort(r.endpoint),
			PublicKey: key.PublicKey(),
		})
	}
	return actor.NewStaticRelaySelector(relays)
}

// eventPrinter writes actor events and signals the first automatic restart
// out of the error state.
type eventPrinter struct {
	mu        sync.Mutex
	w         io.Writer
	restarted chan struct{}
	once      sync.Once
}

func (p *eventPrinter) handle(ev actor.Event) {
	p.printf("%-24s %s\n", ev.Type, tunnelstate.LogFormat(ev.State))
	if ev.Type != actor.EventStateChanged || ev.Previous == nil {
		return
	}
	if _, fromError := ev.Previous.(tunnelstate.Error); fromError {
		p.once.Do(func() { close(p.restarted) })
	}
}

func (p *eventPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func runDemo(ctx context.Context, w io.Writer, cfg *core.Config, opts *options, demo demoOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	selector, err := newDemoSelector()
	if err != nil {
		return err
	}
	svc, err := core.NewService(cfg, selector, opts.logger(cfg))
	if err != nil {
		return err
	}

	deviceKey, err := demoDeviceKey(demo.deviceKey)
	if err != nil {
		return err
	}

	printer := &eventPrinter{w: w, restarted: make(chan struct{})}
	svc.SetOnEvent(printer.handle)

	if err := svc.Start(ctx, deviceKey.PublicKey()); err != nil {
		return stopAfter(ctx, svc, err)
	}
	a := svc.Actor()

	timeout := cfg.Restart.Interval.Std() + demo.eventTimeout
	if err := demoSteps(ctx, a, cfg, deviceKey.PublicKey(), printer, timeout); err != nil {
		return stopAfter(ctx, svc, err)
	}

	if err := svc.Stop(ctx); err != nil {
		return err
	}
	printer.printf("snapshot written to %s\n", cfg.SnapshotPath())

	if demo.showMetrics {
		printer.printf("\n%s", metrics.Expose())
	}
	return nil
}

// demoDeviceKey parses the --key flag, or generates a key when it is empty.
func demoDeviceKey(flag string) (wgtypes.Key, error) {
	if flag == "" {
		key, err := wgtypes.GeneratePrivateKey()
		if err != nil {
			return wgtypes.Key{}, fmt.Errorf("generating device key: %w", err)
		}
		return key, nil
	}
	key, err := validation.WireGuardKey("--key", flag)
	if err != nil {
		return wgtypes.Key{}, errors.Wrap(errors.CodeValidation, err.Error(), errors.ErrInvalidInput)
	}
	return key, nil
}

func demoSteps(ctx context.Context, a *actor.Actor, cfg *core.Config, deviceKey wgtypes.Key, printer *eventPrinter, timeout time.Duration) error {
	if cfg.Tunnel.PostQuantum || cfg.Tunnel.Daita {
		ephemeral, err := wgtypes.GeneratePrivateKey()
		if err != nil {
			return fmt.Errorf("generating ephemeral key: %w", err)
		}
		if err := a.NegotiateEphemeralPeer(ephemeral); err != nil {
			return err
		}
	}
	if err := a.MarkConnected(); err != nil {
		return err
	}
	if err := a.SetNetworkReachability(tunnelstate.ReachabilityReachable); err != nil {
		return err
	}

	handle, err := a.StartKeyRotation(deviceKey)
	if err != nil {
		return err
	}
	if err := a.ConfirmKeyRotation(handle); err != nil {
		return err
	}

	if err := a.Reconnect(ctx); err != nil {
		return err
	}
	printer.printf("%-24s %s\n", "retry delay", a.NextRetryDelay())
	if err := a.MarkConnected(); err != nil {
		return err
	}

	if err := a.Block(tunnelstate.ReasonTunnelAdapter); err != nil {
		return err
	}
	select {
	case <-printer.restarted:
	case <-time.After(timeout):
		return fmt.Errorf("no automatic restart within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	return a.MarkConnected()
}

// stopAfter stops svc and returns cause together with any stop error.
func stopAfter(ctx context.Context, svc *core.Service, cause error) error {
	if svc.State() != core.ServiceRunning {
		return cause
	}
	if err := svc.Stop(ctx); err != nil {
		return fmt.Errorf("%w (stop: %v)", cause, err)
	}
	return cause
}
