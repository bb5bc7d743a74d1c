package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/taoyao-code/rovercan/internal/canbus"
	"github.com/taoyao-code/rovercan/internal/canbus/virtual"
	cfgpkg "github.com/taoyao-code/rovercan/internal/config"
	"github.com/taoyao-code/rovercan/internal/fleet"
	"github.com/taoyao-code/rovercan/internal/gateway"
	"github.com/taoyao-code/rovercan/internal/payload"
	"github.com/taoyao-code/rovercan/internal/protocol"
	"github.com/taoyao-code/rovercan/internal/protocol/master"
	"github.com/taoyao-code/rovercan/internal/protocol/slave"
	"github.com/taoyao-code/rovercan/internal/telemetry"
)

type harness struct {
	engine *gin.Engine
	sim    *payload.Sim
	gw     *gateway.Gateway
}

// newHarness 节点 5 挂载模拟载荷，命令经 master + gateway 下发
func newHarness(t *testing.T, gwCfg cfgpkg.GatewayConfig, apiKeys []string) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	bus := virtual.New()
	sEP, mEP := bus.Attach(), bus.Attach()
	t.Cleanup(func() {
		_ = sEP.Close()
		_ = mEP.Close()
	})

	sim := payload.New(false, logger)
	sl := slave.New(canbus.NewMatcher(sEP, logger), slave.Options{Address: 5, ListenTimeout: 10 * time.Millisecond}, sim.Handlers(), logger, nil)
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
	gw := gateway.New(ms, gwCfg, logger)

	cache := telemetry.NewCache()
	require.NoError(t, cache.Store(context.Background(), protocol.Sample{
		Datapoint: protocol.Datapoint{Source: 5, Stream: 0, Channel: 1, Value: 4.5},
		At:        time.Now(),
	}))
	reg := fleet.NewRegistry(time.Minute)
	reg.OnPong(5, time.Now())

	r := gin.New()
	RegisterRoutes(r, NewNodeHandler(gw, logger), NewQueryHandler(cache, reg, gw), apiKeys, logger)
	return &harness{engine: r, sim: sim, gw: gw}
}

func (h *harness) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.engine.ServeHTTP(rr, req)
	out := map[string]interface{}{}
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	}
	return rr.Code, out
}

func TestNodeCommands(t *testing.T) {
	h := newHarness(t, cfgpkg.GatewayConfig{BreakerThreshold: 3, BreakerCooldown: time.Minute}, nil)

	code, body := h.do(t, http.MethodPost, "/api/v1/nodes/5/motors/2/position", `{"value":1.5}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["state"].(map[string]interface{})["error"])
	pos, _ := h.sim.Position(2)
	assert.Equal(t, float32(1.5), pos)

	code, body = h.do(t, http.MethodGet, "/api/v1/nodes/5/motors/2/position", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.5, body["value"])

	code, _ = h.do(t, http.MethodPost, "/api/v1/nodes/5/motors/2/speed", `{"value":0.25}`)
	require.Equal(t, http.StatusOK, code)
	code, body = h.do(t, http.MethodGet, "/api/v1/nodes/5/motors/2/speed", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0.25, body["value"])

	code, _ = h.do(t, http.MethodPost, "/api/v1/nodes/5/motors/3/state", `{"on":true}`)
	require.Equal(t, http.StatusOK, code)
	code, body = h.do(t, http.MethodGet, "/api/v1/nodes/5/datapoints/2/3", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["value"])
	assert.Equal(t, 3.0, body["channel"])

	code, body = h.do(t, http.MethodPost, "/api/v1/nodes/5/ping", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["online"])

	code, body = h.do(t, http.MethodPost, "/api/v1/nodes/5/calibrate", `{"motor":1}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])

	code, body = h.do(t, http.MethodPost, "/api/v1/nodes/5/estop", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	assert.True(t, h.sim.EStopped())

	code, body = h.do(t, http.MethodPost, "/api/v1/nodes/5/motors/2/position", `{"value":3}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["state"].(map[string]interface{})["error"], "latched estop rejects motion")
}

func TestNodeCommandBadRequests(t *testing.T) {
	h := newHarness(t, cfgpkg.GatewayConfig{}, nil)
	tests := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/api/v1/nodes/x/ping", ""},
		{http.MethodPost, "/api/v1/nodes/64/ping", ""},
		{http.MethodPost, "/api/v1/nodes/5/motors/16/position", `{"value":1}`},
		{http.MethodPost, "/api/v1/nodes/5/motors/1/position", `{}`},
		{http.MethodPost, "/api/v1/nodes/5/motors/1/state", `{"value":1}`},
		{http.MethodPost, "/api/v1/nodes/5/calibrate", `{"motor":16}`},
		{http.MethodGet, "/api/v1/nodes/5/datapoints/1/99", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, _ := h.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}
}

func TestNodeCommandTimeoutAndBreaker(t *testing.T) {
	h := newHarness(t, cfgpkg.GatewayConfig{BreakerThreshold: 1, BreakerCooldown: time.Minute}, nil)

	code, _ := h.do(t, http.MethodGet, "/api/v1/nodes/9/motors/0/position", "")
	assert.Equal(t, http.StatusGatewayTimeout, code)

	code, _ = h.do(t, http.MethodGet, "/api/v1/nodes/9/motors/0/position", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body := h.do(t, http.MethodGet, "/api/v1/fleet", "")
	require.Equal(t, http.StatusOK, code)
	breakers := body["gateway"].(map[string]interface{})["breakers"].(map[string]interface{})
	assert.Equal(t, "open", breakers["9"].(map[string]interface{})["state"])
}

func TestNodeCommandRateLimited(t *testing.T) {
	h := newHarness(t, cfgpkg.GatewayConfig{RatePerSec: 1, Burst: 1}, nil)
	code, _ := h.do(t, http.MethodPost, "/api/v1/nodes/5/ping", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = h.do(t, http.MethodPost, "/api/v1/nodes/5/ping", "")
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestNodeCommandAuth(t *testing.T) {
	h := newHarness(t, cfgpkg.GatewayConfig{}, []string{"operator-key-0001"})
	code, _ := h.do(t, http.MethodPost, "/api/v1/nodes/5/ping", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = h.do(t, http.MethodGet, "/api/v1/telemetry", "")
	assert.Equal(t, http.StatusOK, code, "queries stay open")
}

func TestQueries(t *testing.T) {
	h := newHarness(t, cfgpkg.GatewayConfig{}, nil)

	code, body := h.do(t, http.MethodGet, "/api/v1/telemetry", "")
	require.Equal(t, http.StatusOK, code)
	dps := body["datapoints"].([]interface{})
	require.Len(t, dps, 1)
	assert.Equal(t, 4.5, dps[0].(map[string]interface{})["value"])

	code, body = h.do(t, http.MethodGet, "/api/v1/telemetry?source=6", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["datapoints"])

	code, _ = h.do(t, http.MethodGet, "/api/v1/telemetry?source=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = h.do(t, http.MethodGet, "/api/v1/fleet", "")
	require.Equal(t, http.StatusOK, code)
	nodes := body["nodes"].([]interface{})
	require.Len(t, nodes, 1)
	assert.Equal(t, true, nodes[0].(map[string]interface{})["online"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{gateway.ErrRateLimited, http.StatusTooManyRequests},
		{gateway.ErrCircuitOpen, http.StatusServiceUnavailable},
		{protocol.ErrNoResponse, http.StatusGatewayTimeout},
		{protocol.ErrMalformedFrame, http.StatusBadGateway},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

type fakeHistory struct {
	gotLimit int
	samples  []protocol.Sample
}

func (f *fakeHistory) Recent(_ context.Context, source, stream, channel uint8, limit int) ([]protocol.Sample, error) {
	f.gotLimit = limit
	var out []protocol.Sample
	for _, s := range f.samples {
		if s.Source == source && s.Stream == stream && s.Channel == channel {
			out = append(out, s)
		}
	}
	return out, nil
}

func TestHistory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hist := &fakeHistory{samples: []protocol.Sample{
		{Datapoint: protocol.Datapoint{Source: 5, Stream: 1, Channel: 2, Value: 3}, At: time.Now()},
	}}
	r := gin.New()
	RegisterRoutes(r, nil, NewQueryHandler(nil, nil, nil).WithHistory(hist), nil, nil)
	h := &harness{engine: r}

	code, body := h.do(t, http.MethodGet, "/api/v1/history/5/1/2?limit=10", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["datapoints"], 1)
	assert.Equal(t, 10, hist.gotLimit)

	code, body = h.do(t, http.MethodGet, "/api/v1/history/6/1/2", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["datapoints"])
	assert.Equal(t, 100, hist.gotLimit)

	code, _ = h.do(t, http.MethodGet, "/api/v1/history/5/1/2?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = h.do(t, http.MethodGet, "/api/v1/history/5/16/2", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHistoryDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, nil, NewQueryHandler(nil, nil, nil), nil, nil)
	code, _ := (&harness{engine: r}).do(t, http.MethodGet, "/api/v1/history/5/1/2", "")
	assert.Equal(t, http.StatusNotFound, code)
}
