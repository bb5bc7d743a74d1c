package slave

import "go.uber.org/zap"

// EStopHandler 急停
type EStopHandler interface {
	EStop() error
}

// CalibrateHandler 校准/复位
type CalibrateHandler interface {
	Calibrate(motor uint8) error
}

// SetterHandler 设置类命令（位置/速度）
type SetterHandler interface {
	Set(motor uint8, value float32) error
}

// GetterHandler 读取类命令（位置/速度）
type GetterHandler interface {
	Get(motor uint8) (float32, error)
}

// ToggleHandler 开关量命令，state 为请求标志半字节
type ToggleHandler interface {
	Toggle(motor uint8, state uint8) error
}

// DatapointHandler 数据点请求
type DatapointHandler interface {
	Datapoint(stream, channel uint8) (float32, error)
}

// 函数适配器

type EStopFunc func() error

func (f EStopFunc) EStop() error { return f() }

type CalibrateFunc func(motor uint8) error

func (f CalibrateFunc) Calibrate(motor uint8) error { return f(motor) }

type SetterFunc func(motor uint8, value float32) error

func (f SetterFunc) Set(motor uint8, value float32) error { return f(motor, value) }

type GetterFunc func(motor uint8) (float32, error)

func (f GetterFunc) Get(motor uint8) (float32, error) { return f(motor) }

type ToggleFunc func(motor uint8, state uint8) error

func (f ToggleFunc) Toggle(motor uint8, state uint8) error { return f(motor, state) }

type DatapointFunc func(stream, channel uint8) (float32, error)

func (f DatapointFunc) Datapoint(stream, channel uint8) (float32, error) { return f(stream, channel) }

// Handlers 每个从站实例独立的处理器槽位（命令 0x0-0x8，Ping 内部处理）
// 未设置的槽位使用仅记录日志的默认实现。处理器返回错误时应答置错误位，
// 错误包裹 protocol.ErrUncalibrated 时同时置未校准位。
type Handlers struct {
	EStop            EStopHandler
	Calibrate        CalibrateHandler
	SetMotorPosition SetterHandler
	SetMotorSpeed    SetterHandler
	ToggleState      ToggleHandler
	GetMotorPosition GetterHandler
	GetMotorSpeed    GetterHandler
	RequestDatapoint DatapointHandler
}

// withDefaults 为空槽位填入默认实现
func (h Handlers) withDefaults(logger *zap.Logger) Handlers {
	d := defaultHandler{logger: logger}
	if h.EStop == nil {
		h.EStop = d
	}
	if h.Calibrate == nil {
		h.Calibrate = d
	}
	if h.SetMotorPosition == nil {
		h.SetMotorPosition = d
	}
	if h.SetMotorSpeed == nil {
		h.SetMotorSpeed = d
	}
	if h.ToggleState == nil {
		h.ToggleState = d
	}
	if h.GetMotorPosition == nil {
		h.GetMotorPosition = d
	}
	if h.GetMotorSpeed == nil {
		h.GetMotorSpeed = d
	}
	if h.RequestDatapoint == nil {
		h.RequestDatapoint = d
	}
	return h
}

type defaultHandler struct {
	logger *zap.Logger
}

func (d defaultHandler) EStop() error {
	d.logger.Info("default estop handler")
	return nil
}

func (d defaultHandler) Calibrate(motor uint8) error {
	d.logger.Info("default calibrate handler", zap.Uint8("motor", motor))
	return nil
}

func (d defaultHandler) Set(motor uint8, value float32) error {
	d.logger.Info("default setter handler", zap.Uint8("motor", motor), zap.Float32("value", value))
	return nil
}

func (d defaultHandler) Get(motor uint8) (float32, error) {
	d.logger.Info("default getter handler", zap.Uint8("motor", motor))
	return 0, nil
}

func (d defaultHandler) Toggle(motor uint8, state uint8) error {
	d.logger.Info("default toggle handler", zap.Uint8("motor", motor), zap.Uint8("state", state))
	return nil
}

func (d defaultHandler) Datapoint(stream, channel uint8) (float32, error) {
	d.logger.Info("default datapoint handler", zap.Uint8("stream", stream), zap.Uint8("channel", channel))
	return 0, nil
}
