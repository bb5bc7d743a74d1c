package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/rovercan/internal/gateway"
	"github.com/taoyao-code/rovercan/internal/protocol/address"
)

// NodeHandler 节点命令API处理器
type NodeHandler struct {
	cmd    gateway.Commander
	logger *zap.Logger
}

// NewNodeHandler 创建节点命令处理器
func NewNodeHandler(cmd gateway.Commander, logger *zap.Logger) *NodeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NodeHandler{cmd: cmd, logger: logger}
}

// valueRequest 设置位置/速度
type valueRequest struct {
	Value *float32 `json:"value" binding:"required"`
}

// stateRequest 开关
type stateRequest struct {
	On *bool `json:"on" binding:"required"`
}

// calibrateRequest 校准
type calibrateRequest struct {
	Motor *uint8 `json:"motor" binding:"required"`
}

func nodeParam(c *gin.Context) (uint8, error) {
	v, err := strconv.Atoi(c.Param("addr"))
	if err != nil {
		return 0, fmt.Errorf("addr: %w", err)
	}
	if err := address.ValidateNode(v); err != nil {
		return 0, err
	}
	return uint8(v), nil
}

func nibbleParam(c *gin.Context, name string) (uint8, error) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if err := address.ValidateNibble(v); err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return uint8(v), nil
}

// nodeMotor 解析 :addr 与 :motor
func nodeMotor(c *gin.Context) (uint8, uint8, bool) {
	node, err := nodeParam(c)
	if err != nil {
		badRequest(c, err)
		return 0, 0, false
	}
	motor, err := nibbleParam(c, "motor")
	if err != nil {
		badRequest(c, err)
		return 0, 0, false
	}
	return node, motor, true
}

// Ping POST /api/v1/nodes/:addr/ping
func (h *NodeHandler) Ping(c *gin.Context) {
	node, err := nodeParam(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	ok, err := h.cmd.Ping(c.Request.Context(), node)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node, "online": ok})
}

// EStop POST /api/v1/nodes/:addr/estop
func (h *NodeHandler) EStop(c *gin.Context) {
	node, err := nodeParam(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	ok, err := h.cmd.EStop(c.Request.Context(), node)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.logger.Warn("estop requested", zap.Uint8("node", node), zap.Bool("ack", ok))
	c.JSON(http.StatusOK, gin.H{"node": node, "ok": ok})
}

// Calibrate POST /api/v1/nodes/:addr/calibrate {"motor":n}
func (h *NodeHandler) Calibrate(c *gin.Context) {
	node, err := nodeParam(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	var req calibrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := address.ValidateNibble(int(*req.Motor)); err != nil {
		badRequest(c, err)
		return
	}
	ok, err := h.cmd.Calibrate(c.Request.Context(), node, *req.Motor)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node, "motor": *req.Motor, "ok": ok})
}

// SetPosition POST /api/v1/nodes/:addr/motors/:motor/position {"value":v}
func (h *NodeHandler) SetPosition(c *gin.Context) {
	node, motor, ok := nodeMotor(c)
	if !ok {
		return
	}
	var req valueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.cmd.SetMotorPosition(c.Request.Context(), node, motor, *req.Value)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node, "state": st})
}

// SetSpeed POST /api/v1/nodes/:addr/motors/:motor/speed {"value":v}
func (h *NodeHandler) SetSpeed(c *gin.Context) {
	node, motor, ok := nodeMotor(c)
	if !ok {
		return
	}
	var req valueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.cmd.SetMotorSpeed(c.Request.Context(), node, motor, *req.Value)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node, "state": st})
}

// SetState POST /api/v1/nodes/:addr/motors/:motor/state {"on":bool}
func (h *NodeHandler) SetState(c *gin.Context) {
	node, motor, ok := nodeMotor(c)
	if !ok {
		return
	}
	var req stateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.cmd.ToggleState(c.Request.Context(), node, motor, *req.On)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node, "state": st})
}

// GetPosition GET /api/v1/nodes/:addr/motors/:motor/position
func (h *NodeHandler) GetPosition(c *gin.Context) {
	node, motor, ok := nodeMotor(c)
	if !ok {
		return
	}
	st, v, err := h.cmd.GetMotorPosition(c.Request.Context(), node, motor)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node, "state": st, "value": v})
}

// GetSpeed GET /api/v1/nodes/:addr/motors/:motor/speed
func (h *NodeHandler) GetSpeed(c *gin.Context) {
	node, motor, ok := nodeMotor(c)
	if !ok {
		return
	}
	st, v, err := h.cmd.GetMotorSpeed(c.Request.Context(), node, motor)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node, "state": st, "value": v})
}

// GetDatapoint GET /api/v1/nodes/:addr/datapoints/:stream/:channel
func (h *NodeHandler) GetDatapoint(c *gin.Context) {
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
	dp, err := h.cmd.RequestDatapoint(c.Request.Context(), node, stream, channel)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, dp)
}
