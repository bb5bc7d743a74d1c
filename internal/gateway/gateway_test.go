package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/taoyao-code/rovercan/internal/canbus"
	"github.com/taoyao-code/rovercan/internal/canbus/virtual"
	cfgpkg "github.com/taoyao-code/rovercan/internal/config"
	"github.com/taoyao-code/rovercan/internal/protocol"
	"github.com/taoyao-code/rovercan/internal/protocol/master"
	"github.com/taoyao-code/rovercan/internal/protocol/slave"
)

// fakeCommander 每个方法返回同一个 err；online 控制 Ping 结果
type fakeCommander struct {
	err    error
	online bool
	calls  int
	estops int
}

func (f *fakeCommander) EStop(context.Context, uint8) (bool, error) {
	f.estops++
	return f.online, nil
}

func (f *fakeCommander) Calibrate(context.Context, uint8, uint8) (bool, error) {
	f.calls++
	return f.online, f.err
}

func (f *fakeCommander) SetMotorPosition(context.Context, uint8, uint8, float32) (protocol.State, error) {
	f.calls++
	return protocol.State{}, f.err
}

func (f *fakeCommander) SetMotorSpeed(context.Context, uint8, uint8, float32) (protocol.State, error) {
	f.calls++
	return protocol.State{}, f.err
}

func (f *fakeCommander) ToggleState(context.Context, uint8, uint8, bool) (protocol.State, error) {
	f.calls++
	return protocol.State{}, f.err
}

func (f *fakeCommander) GetMotorPosition(context.Context, uint8, uint8) (protocol.State, float32, error) {
	f.calls++
	return protocol.State{}, 1, f.err
}

func (f *fakeCommander) GetMotorSpeed(context.Context, uint8, uint8) (protocol.State, float32, error) {
	f.calls++
	return protocol.State{}, 2, f.err
}

func (f *fakeCommander) RequestDatapoint(context.Context, uint8, uint8, uint8) (protocol.Datapoint, error) {
	f.calls++
	return protocol.Datapoint{}, f.err
}

func (f *fakeCommander) Ping(context.Context, uint8) (bool, error) {
	f.calls++
	return f.online, f.err
}

func gatewayConfig() cfgpkg.GatewayConfig {
	return cfgpkg.GatewayConfig{BreakerThreshold: 2, BreakerCooldown: time.Hour}
}

func TestGatewayBreakerOnTimeouts(t *testing.T) {
	fake := &fakeCommander{err: fmt.Errorf("get: %w", protocol.ErrNoResponse)}
	g := New(fake, gatewayConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := g.GetMotorPosition(ctx, 5, 0)
		assert.ErrorIs(t, err, protocol.ErrNoResponse)
	}
	_, _, err := g.GetMotorPosition(ctx, 5, 0)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, fake.calls, "open breaker does not reach the bus")
	assert.Equal(t, 1, g.OpenBreakers())

	fake.err = nil
	_, err = g.SetMotorSpeed(ctx, 6, 0, 1)
	assert.NoError(t, err, "other nodes unaffected")

	ok, err := g.EStop(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, fake.estops, "estop bypasses the breaker")
}

func TestGatewayPingMissCounts(t *testing.T) {
	fake := &fakeCommander{}
	g := New(fake, gatewayConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := g.Ping(ctx, 9)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	_, err := g.Ping(ctx, 9)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "open", g.Stats().Breakers[9].State)
}

func TestGatewayNeutralErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"cancelled", context.Canceled},
		{"transport", errors.New("bus down")},
		{"malformed", protocol.ErrMalformedFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeCommander{err: tt.err}
			g := New(fake, gatewayConfig(), nil)
			for i := 0; i < 5; i++ {
				_, err := g.RequestDatapoint(context.Background(), 3, 0, 0)
				assert.ErrorIs(t, err, tt.err)
			}
			assert.Equal(t, BreakerClosed, g.Breaker(3).State())
		})
	}
}

func TestGatewayCalibrateFalseIsNeutral(t *testing.T) {
	fake := &fakeCommander{}
	g := New(fake, gatewayConfig(), nil)
	for i := 0; i < 4; i++ {
		ok, err := g.Calibrate(context.Background(), 4, 1)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, BreakerClosed, g.Breaker(4).State())
}

func TestGatewayRateLimit(t *testing.T) {
	fake := &fakeCommander{online: true}
	g := New(fake, cfgpkg.GatewayConfig{RatePerSec: 1, Burst: 1}, nil)
	ctx := context.Background()

	_, err := g.ToggleState(ctx, 2, 0, true)
	require.NoError(t, err)
	_, err = g.ToggleState(ctx, 2, 0, true)
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = g.EStop(ctx, 2)
	assert.NoError(t, err, "estop bypasses the limiter")

	st := g.Stats()
	assert.Equal(t, int64(1), st.Allowed)
	assert.Equal(t, int64(1), st.Rejected)
}

func TestGatewayOverBus(t *testing.T) {
	bus := virtual.New()
	sEP, mEP := bus.Attach(), bus.Attach()
	t.Cleanup(func() {
		_ = sEP.Close()
		_ = mEP.Close()
	})
	logger := zaptest.NewLogger(t)

	h := slave.Handlers{GetMotorSpeed: slave.GetterFunc(func(motor uint8) (float32, error) {
		return float32(motor) * 10, nil
	})}
	sl := slave.New(canbus.NewMatcher(sEP, logger), slave.Options{Address: 5, ListenTimeout: 10 * time.Millisecond}, h, logger, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sl.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	ms := master.New(canbus.NewMatcher(mEP, logger), master.Options{
		RequestTimeout: 100 * time.Millisecond,
		PingTimeout:    100 * time.Millisecond,
	}, logger, nil)
	g := New(ms, gatewayConfig(), logger)

	_, v, err := g.GetMotorSpeed(ctx, 5, 3)
	require.NoError(t, err)
	assert.Equal(t, float32(30), v)

	ok, err := g.Ping(ctx, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	for i := 0; i < 2; i++ {
		_, _, err = g.GetMotorSpeed(ctx, 8, 0)
		assert.ErrorIs(t, err, protocol.ErrNoResponse)
	}
	start := time.Now()
	_, _, err = g.GetMotorSpeed(ctx, 8, 0)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
