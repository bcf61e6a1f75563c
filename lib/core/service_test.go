package core

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/go-i2p/packettunnel/lib/actor"
	"github.com/go-i2p/packettunnel/lib/errors"
	"github.com/go-i2p/packettunnel/lib/tunnelstate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSelector() *actor.StaticRelaySelector {
	return &actor.StaticRelaySelector{Relays: []tunnelstate.Relay{
		{Hostname: "se-got-wg-001", Endpoint: netip.MustParseAddrPort("185.213.154.68:51820")},
		{Hostname: "se-sto-wg-001", Endpoint: netip.MustParseAddrPort("185.65.135.80:51820")},
	}}
}

func testServiceConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Tunnel.DataDir = t.TempDir()
	return cfg
}

func TestNewService(t *testing.T) {
	cfg := testServiceConfig(t)

	svc, err := NewService(cfg, testSelector(), testLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if svc.State() != ServiceInitial {
		t.Errorf("new service should be in initial state, got %s", svc.State())
	}
	if svc.Actor() != nil {
		t.Error("actor should be nil before Start")
	}
	if svc.Uptime() != 0 {
		t.Error("uptime should be zero before Start")
	}
	if svc.Config() != cfg {
		t.Error("Config should return the config passed to NewService")
	}
}

func TestNewService_InvalidArguments(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *Config
		selector actor.RelaySelector
	}{
		{name: "nil config", cfg: nil, selector: testSelector()},
		{name: "nil selector", cfg: DefaultConfig(), selector: nil},
		{name: "invalid config", cfg: &Config{}, selector: testSelector()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewService(tt.cfg, tt.selector, nil); err == nil {
				t.Error("NewService should fail")
			}
		})
	}
}

func TestService_StartStop(t *testing.T) {
	cfg := testServiceConfig(t)
	svc, err := NewService(cfg, testSelector(), testLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	var (
		mu     sync.Mutex
		events []actor.EventType
	)
	svc.SetOnEvent(func(ev actor.Event) {
		mu.Lock()
		events = append(events, ev.Type)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := svc.Start(ctx, wgtypes.Key{1}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if svc.State() != ServiceRunning {
		t.Errorf("service should be running, got %s", svc.State())
	}
	if _, ok := svc.Actor().State().(tunnelstate.Connecting); !ok {
		t.Errorf("tunnel should be connecting, got %s", svc.Actor().State().Name())
	}

	if err := svc.Start(ctx, wgtypes.Key{1}); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("second Start should fail with ErrInvalidState, got %v", err)
	}

	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if svc.State() != ServiceStopped {
		t.Errorf("service should be stopped, got %s", svc.State())
	}

	select {
	case <-svc.Done():
	default:
		t.Error("Done should be closed after Stop")
	}

	mu.Lock()
	got := append([]actor.EventType(nil), events...)
	mu.Unlock()
	if !slices.Contains(got, actor.EventStarted) {
		t.Errorf("started event should be forwarded, got %v", got)
	}

	data, err := os.ReadFile(cfg.SnapshotPath())
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	state, err := tunnelstate.UnmarshalState(data)
	if err != nil {
		t.Fatalf("snapshot does not decode: %v", err)
	}
	if _, ok := state.(tunnelstate.Disconnected); !ok {
		t.Errorf("snapshot should hold Disconnected, got %s", state.Name())
	}
}

func TestService_StartBlocked(t *testing.T) {
	cfg := testServiceConfig(t)
	cfg.Relays.Locations = []string{"us-nyc"}

	svc, err := NewService(cfg, testSelector(), testLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	ctx := context.Background()
	if err := svc.Start(ctx, wgtypes.Key{}); err == nil {
		t.Fatal("Start should report the relay selection failure")
	}
	if svc.State() != ServiceRunning {
		t.Errorf("service should keep running while blocked, got %s", svc.State())
	}

	blocked, ok := svc.Actor().State().(tunnelstate.Error)
	if !ok {
		t.Fatalf("tunnel should be blocked, got %s", svc.Actor().State().Name())
	}
	if blocked.Data.Reason != tunnelstate.ReasonNoRelaysSatisfyingConstraints {
		t.Errorf("reason = %s, want noRelaysSatisfyingConstraints", blocked.Data.Reason)
	}

	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	data, err := os.ReadFile(cfg.SnapshotPath())
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	state, err := tunnelstate.UnmarshalState(data)
	if err != nil {
		t.Fatalf("snapshot does not decode: %v", err)
	}
	if _, ok := state.(tunnelstate.Disconnected); !ok {
		t.Errorf("snapshot should hold Disconnected, got %s", state.Name())
	}
}

func TestService_StopBeforeStart(t *testing.T) {
	svc, err := NewService(testServiceConfig(t), testSelector(), testLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	if err := svc.Stop(context.Background()); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("Stop before Start should fail with ErrInvalidState, got %v", err)
	}
}

func TestServiceState_String(t *testing.T) {
	tests := []struct {
		state ServiceState
		want  string
	}{
		{ServiceInitial, "initial"},
		{ServiceStarting, "starting"},
		{ServiceRunning, "running"},
		{ServiceStopping, "stopping"},
		{ServiceStopped, "stopped"},
		{ServiceState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("ServiceState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
