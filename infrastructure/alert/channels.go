package alert

import (
	"fmt"
	"sync"

	"trade-exec-go/infrastructure/logger"
)

// LogChannel 经结构化日志器投递告警，级别映射到日志级别。
type LogChannel struct {
	log *logger.Logger
}

func NewLogChannel(log *logger.Logger) *LogChannel {
	if log == nil {
		log = logger.Nop()
	}
	return &LogChannel{log: log}
}

func (c *LogChannel) Deliver(a Alert) error {
	fields := map[string]interface{}{
		"controller": a.Controller,
		"entity_id":  a.EntityID,
		"message":    a.Message,
	}
	for k, v := range a.Fields {
		fields[k] = v
	}
	lg := c.log.WithFields(fields)
	switch a.Severity {
	case SeverityError:
		lg.Error("alert")
	case SeverityWarning:
		lg.Warn("alert")
	default:
		lg.Info("alert")
	}
	return nil
}

func (c *LogChannel) Name() string { return "log" }

var severityColors = map[Severity]string{
	SeverityInfo:    "\033[32m",
	SeverityWarning: "\033[33m",
	SeverityError:   "\033[31m",
}

// ConsoleChannel 控制台人读输出，级别着色。
type ConsoleChannel struct{}

func NewConsoleChannel() *ConsoleChannel { return &ConsoleChannel{} }

func (c *ConsoleChannel) Deliver(a Alert) error {
	color, reset := severityColors[a.Severity], "\033[0m"
	line := fmt.Sprintf("%s[%s]%s %s %s/%s %s",
		color, a.Severity, reset,
		a.Timestamp.Format("2006-01-02 15:04:05"),
		a.Controller, a.EntityID, a.Message)
	for k, v := range a.Fields {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	fmt.Println(line)
	return nil
}

func (c *ConsoleChannel) Name() string { return "console" }

// MockChannel 测试用通道：记录收到的告警，可注入投递错误。
type MockChannel struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func NewMockChannel() *MockChannel { return &MockChannel{} }

func (c *MockChannel) Deliver(a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *MockChannel) Name() string { return "mock" }

// FailWith 使后续 Deliver 返回 err；nil 恢复正常。
func (c *MockChannel) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *MockChannel) Alerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

func (c *MockChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}
