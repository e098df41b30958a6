package alert

import (
	"fmt"
	"sync"
	"time"
)

// Severity 告警级别。
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Alert 控制器生命周期告警。Controller+EntityID 定位触发来源，
// 同一来源的同类告警在限流窗口内只发一次。
type Alert struct {
	Severity   Severity
	Controller string // bracket / twap / exec
	EntityID   string
	Kind       string // 事件/状态类别，限流按类别去重
	Message    string
	Fields     map[string]interface{}
	Timestamp  time.Time
}

// throttleKey 限流键：按控制器实例与事件类别去重。不同 bracket/TWAP
// 互不影响；同一实例反复失败的分片被窗口抑制，但不会压掉随后的
// 终态告警。
func (a Alert) throttleKey() string {
	kind := a.Kind
	if kind == "" {
		kind = string(a.Severity)
	}
	return a.Controller + ":" + a.EntityID + ":" + kind
}

// Channel 告警投递通道。
type Channel interface {
	Deliver(a Alert) error
	Name() string
}

// Manager 告警分发器：按来源限流后扇出到全部通道。
type Manager struct {
	mu       sync.Mutex
	channels []Channel
	window   time.Duration
	lastSent map[string]time.Time
	now      func() time.Time
}

// NewManager 创建分发器。window <= 0 时不限流。
func NewManager(window time.Duration, channels ...Channel) *Manager {
	return &Manager{
		channels: channels,
		window:   window,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Notify 投递一条告警。窗口内的同源同级重复被静默丢弃；
// 全部通道投递失败时返回最后一个错误，部分成功视为成功。
func (m *Manager) Notify(a Alert) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = m.now()
	}

	m.mu.Lock()
	if m.window > 0 {
		key := a.throttleKey()
		if last, ok := m.lastSent[key]; ok && a.Timestamp.Sub(last) < m.window {
			m.mu.Unlock()
			return nil
		}
		m.lastSent[key] = a.Timestamp
	}
	channels := make([]Channel, len(m.channels))
	copy(channels, m.channels)
	m.mu.Unlock()

	var lastErr error
	delivered := 0
	for _, ch := range channels {
		if err := ch.Deliver(a); err != nil {
			lastErr = fmt.Errorf("channel %s: %w", ch.Name(), err)
		} else {
			delivered++
		}
	}
	if delivered == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// ResetThrottle 清空限流记录（实体终态清理或测试用）。
func (m *Manager) ResetThrottle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSent = make(map[string]time.Time)
}
