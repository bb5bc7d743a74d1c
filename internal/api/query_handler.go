package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taoyao-code/rovercan/internal/fleet"
	"github.com/taoyao-code/rovercan/internal/gateway"
	"github.com/taoyao-code/rovercan/internal/protocol"
	"github.com/taoyao-code/rovercan/internal/protocol/address"
)

// LatestValues 最近广播值（telemetry.Cache 实现）
type LatestValues interface {
	All() []protocol.Sample
	Latest(source uint8) []protocol.Sample
}

// FleetView 节点在线视图（fleet.Registry 实现）
type FleetView interface {
	Snapshot(now time.Time) []fleet.NodeStatus
}

// GatewayStats 网关统计（gateway.Gateway 实现）
type GatewayStats interface {
	Stats() gateway.Stats
}

// History 数据点历史（pg.Archive 实现）
type History interface {
	Recent(ctx context.Context, source, stream, channel uint8, limit int) ([]protocol.Sample, error)
}

const maxHistoryLimit = 1000

// QueryHandler 只读查询API处理器
type QueryHandler struct {
	values  LatestValues
	fleet   FleetView
	gw      GatewayStats
	history History
}

// NewQueryHandler 任一参数可为 nil，对应接口返回空结果
func NewQueryHandler(values LatestValues, fleetView FleetView, gw GatewayStats) *QueryHandler {
	return &QueryHandler{values: values, fleet: fleetView, gw: gw}
}

// WithHistory 启用归档历史查询
func (h *QueryHandler) WithHistory(hist History) *QueryHandler {
	h.history = hist
	return h
}

// Telemetry GET /api/v1/telemetry[?source=n]
func (h *QueryHandler) Telemetry(c *gin.Context) {
	samples := []protocol.Sample{}
	if h.values != nil {
		if v := c.Query("source"); v != "" {
			n, err := strconv.Atoi(v)
			if err == nil {
				err = address.ValidateNode(n)
			}
			if err != nil {
				badRequest(c, err)
				return
			}
			samples = append(samples, h.values.Latest(uint8(n))...)
		} else {
			samples = append(samples, h.values.All()...)
		}
	}
	c.JSON(http.StatusOK, gin.H{"datapoints": samples})
}

// Fleet GET /api/v1/fleet
func (h *QueryHandler) Fleet(c *gin.Context) {
	resp := gin.H{"nodes": []fleet.NodeStatus{}}
	if h.fleet != nil {
		resp["nodes"] = h.fleet.Snapshot(time.Now())
	}
	if h.gw != nil {
		resp["gateway"] = h.gw.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

// History GET /api/v1/history/:addr/:stream/:channel[?limit=n]，时间倒序
func (h *QueryHandler) History(c *gin.Context) {
	if h.history == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "archive disabled"})
		return
	}
	node, err := nodeParam(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	stream, err := nibbleParam(c, "stream")
	if err != nil {
		badRequest(c, err)
		return
	}
	channel, err := nibbleParam(c, "channel")
	if err != nil {
		badRequest(c, err)
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > maxHistoryLimit {
			badRequest(c, errors.New("limit: must be 1..1000"))
			return
		}
	}
	samples, err := h.history.Recent(c.Request.Context(), node, stream, channel, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if samples == nil {
		samples = []protocol.Sample{}
	}
	c.JSON(http.StatusOK, gin.H{"datapoints": samples})
}
