package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/rovercan/internal/api/middleware"
)

// RegisterRoutes 注册 /api/v1 路由；cmd 为 nil 时只注册查询接口
func RegisterRoutes(r gin.IRouter, cmd *NodeHandler, query *QueryHandler, apiKeys []string, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v1 := r.Group("/api/v1")

	if query != nil {
		v1.GET("/telemetry", query.Telemetry)
		v1.GET("/fleet", query.Fleet)
		v1.GET("/history/:addr/:stream/:channel", query.History)
	}

	if cmd == nil {
		return
	}
	nodes := v1.Group("/nodes/:addr")
	if len(apiKeys) > 0 {
		nodes.Use(middleware.APIKeyAuth(apiKeys, logger))
		logger.Info("node command api authentication enabled", zap.Int("api_keys_count", len(apiKeys)))
	}
	nodes.POST("/ping", cmd.Ping)
	nodes.POST("/estop", cmd.EStop)
	nodes.POST("/calibrate", cmd.Calibrate)
	nodes.POST("/motors/:motor/position", cmd.SetPosition)
	nodes.POST("/motors/:motor/speed", cmd.SetSpeed)
	nodes.POST("/motors/:motor/state", cmd.SetState)
	nodes.GET("/motors/:motor/position", cmd.GetPosition)
	nodes.GET("/motors/:motor/speed", cmd.GetSpeed)
	nodes.GET("/datapoints/:stream/:channel", cmd.GetDatapoint)
}
