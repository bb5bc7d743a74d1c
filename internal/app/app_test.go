package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/taoyao-code/rovercan/internal/canbus"
	"github.com/taoyao-code/rovercan/internal/canbus/trace"
	cfgpkg "github.com/taoyao-code/rovercan/internal/config"
	"github.com/taoyao-code/rovercan/internal/fleet"
	"github.com/taoyao-code/rovercan/internal/health"
	"github.com/taoyao-code/rovercan/internal/payload"
	"github.com/taoyao-code/rovercan/internal/protocol/master"
)

func TestOpenBusUnknownDriver(t *testing.T) {
	_, err := OpenBus(cfgpkg.BusConfig{Driver: "spi"}, 0, nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestSimulatedNodesOverVirtualBus(t *testing.T) {
	logger := zaptest.NewLogger(t)
	record := filepath.Join(t.TempDir(), "trace.yaml")
	bus, err := OpenBus(cfgpkg.BusConfig{Driver: "virtual", RecordFile: record, MaxPending: 32}, 0, nil, logger)
	require.NoError(t, err)
	require.NotNil(t, bus.Virtual)

	ctx, cancel := context.WithCancel(context.Background())
	node := cfgpkg.NodeConfig{ListenTimeout: 10 * time.Millisecond}
	tcfg := cfgpkg.TelemetryConfig{
		Broadcast: true,
		Interval:  20 * time.Millisecond,
		Sources:   []cfgpkg.SourceConfig{{Stream: payload.StreamPosition, Channel: 1}},
	}
	sims := StartSimulatedNodes(ctx, bus, []uint8{4, 6}, node, tcfg, nil, logger)

	ms := master.New(bus.Matcher, master.Options{RequestTimeout: 200 * time.Millisecond, PingTimeout: 200 * time.Millisecond}, logger, nil)
	for _, addr := range []uint8{4, 6} {
		ok, err := ms.Ping(ctx, addr)
		require.NoError(t, err)
		assert.True(t, ok, "node %d", addr)
	}
	_, err = ms.SetMotorPosition(ctx, 6, 1, 2.5)
	require.NoError(t, err)

	dp, err := ms.BroadcastDatapointContext(ctx)
	require.NoError(t, err)
	assert.Contains(t, []uint8{4, 6}, dp.Source)
	assert.Equal(t, uint8(1), dp.Channel)

	cancel()
	sims.Wait()
	require.NoError(t, bus.Close())

	f, err := trace.Load(record)
	require.NoError(t, err)
	assert.NotEmpty(t, f.Entries)
	_, err = os.Stat(record)
	assert.NoError(t, err)
}

func TestOpenBusReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.yaml")
	f := &trace.File{Session: "s", Entries: []trace.Entry{
		{Dir: trace.RX, ID: 0x045, Data: "1001"},
	}}
	fh, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Encode(fh))
	require.NoError(t, fh.Close())

	bus, err := OpenBus(cfgpkg.BusConfig{Driver: "replay", ReplayFile: path}, 0, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer bus.Close()

	got, err := bus.Matcher.ReadMatching(0x045, canbus.MaskAll)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x10), got.Data[0])
}

func TestPayloadSources(t *testing.T) {
	sim := payload.New(false, nil)
	require.NoError(t, sim.SetSpeed(3, 1.25))
	srcs := PayloadSources(sim, []cfgpkg.SourceConfig{{Stream: payload.StreamSpeed, Channel: 3}, {Stream: 9, Channel: 0}})
	require.Len(t, srcs, 2)

	v, err := srcs[0].Sample()
	require.NoError(t, err)
	assert.Equal(t, float32(1.25), v)
	_, err = srcs[1].Sample()
	assert.ErrorIs(t, err, payload.ErrNoSuchStream)
}

func TestFleetChecker(t *testing.T) {
	reg := fleet.NewRegistry(time.Minute)
	check := FleetChecker(reg, []uint8{5, 6})
	assert.Equal(t, "fleet", check.Name())

	res := check.Check(context.Background())
	assert.Equal(t, health.StatusUnhealthy, res.Status)

	reg.OnPong(5, time.Now())
	res = check.Check(context.Background())
	assert.Equal(t, health.StatusDegraded, res.Status)
	assert.Equal(t, []uint8{6}, res.Details["offline"])

	reg.OnPong(6, time.Now())
	assert.Equal(t, health.StatusHealthy, check.Check(context.Background()).Status)
}

type fakePruner struct {
	calls chan time.Time
}

func (f *fakePruner) Prune(_ context.Context, before time.Time) (int64, error) {
	f.calls <- before
	return 1, nil
}

func TestPruneEvery(t *testing.T) {
	assert.Equal(t, time.Minute, pruneEvery(time.Minute))
	assert.Equal(t, 30*time.Minute, pruneEvery(5*time.Hour))
	assert.Equal(t, time.Hour, pruneEvery(30*24*time.Hour))
}

func TestRunArchivePrunerDisabled(t *testing.T) {
	p := &fakePruner{calls: make(chan time.Time, 1)}
	RunArchivePruner(context.Background(), p, 0, zaptest.NewLogger(t))
	assert.Empty(t, p.calls)
}

func TestNewArchive(t *testing.T) {
	assert.Nil(t, NewArchive(nil, cfgpkg.TelemetryConfig{Archive: true}))
}
