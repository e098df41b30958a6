package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled       bool          // 是否启用热更新
	WatchInterval time.Duration // 监听间隔
	CooldownTime  time.Duration // 冷却时间，避免频繁更新
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:       true,
		WatchInterval: 1 * time.Second,
		CooldownTime:  5 * time.Second,
	}
}

// ParameterValidator 参数验证器接口
type ParameterValidator interface {
	Validate(params map[string]interface{}) error
}

// ParameterApplier 参数应用器接口
type ParameterApplier interface {
	ApplyParameters(params map[string]interface{}) error
}

// HotReloader 配置热更新器。执行限额等运行期可调参数通过注册的
// applier 下发，无需重启进程。
type HotReloader struct {
	config        HotReloadConfig
	configPath    string
	watcher       *fsnotify.Watcher
	validators    map[string]ParameterValidator
	appliers      map[string]ParameterApplier
	lastReload    time.Time
	mu            sync.RWMutex
	stopChan      chan struct{}
	doneChan      chan struct{}
	reloadHandler func(newConfig interface{}) error
}

// NewHotReloader 创建热更新器
func NewHotReloader(configPath string, cfg HotReloadConfig) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &HotReloader{
		config:     cfg,
		configPath: configPath,
		watcher:    watcher,
		validators: make(map[string]ParameterValidator),
		appliers:   make(map[string]ParameterApplier),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// RegisterValidator 注册参数验证器
func (h *HotReloader) RegisterValidator(name string, validator ParameterValidator) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.validators[name] = validator
}

// RegisterApplier 注册参数应用器
func (h *HotReloader) RegisterApplier(name string, applier ParameterApplier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appliers[name] = applier
}

// SetReloadHandler 设置重载处理函数
func (h *HotReloader) SetReloadHandler(handler func(newConfig interface{}) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reloadHandler = handler
}

// Start 启动热更新监听
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		return nil
	}

	// 添加配置文件到监听
	if err := h.watcher.Add(h.configPath); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	go h.watch(ctx)

	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	if !h.config.Enabled {
		// 如果没有启用，直接关闭 watcher
		if h.watcher != nil {
			return h.watcher.Close()
		}
		return nil
	}

	// 发送停止信号
	select {
	case <-h.stopChan:
		// 已经停止
	default:
		close(h.stopChan)
	}

	// 等待 goroutine 结束（带超时）
	select {
	case <-h.doneChan:
		// 正常结束
	case <-time.After(1 * time.Second):
		// 超时，可能 watch goroutine 没有启动
	}

	if h.watcher != nil {
		return h.watcher.Close()
	}

	return nil
}

// watch 监听文件变化
func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}

			// 只处理写入和创建事件
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				h.handleConfigChange()
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			// 记录错误但继续监听
			fmt.Printf("Watcher error: %v\n", err)
		}
	}
}

// handleConfigChange 处理配置变化
func (h *HotReloader) handleConfigChange() {
	h.mu.Lock()
	defer h.mu.Unlock()

	// 检查冷却时间
	if time.Since(h.lastReload) < h.config.CooldownTime {
		return
	}

	// 重新加载配置
	if h.reloadHandler != nil {
		if err := h.reloadHandler(nil); err != nil {
			fmt.Printf("Failed to reload config: %v\n", err)
			return
		}
	}

	h.lastReload = time.Now()
}

// ValidateParameters 验证参数
func (h *HotReloader) ValidateParameters(category string, params map[string]interface{}) error {
	h.mu.RLock()
	validator, ok := h.validators[category]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no validator registered for category: %s", category)
	}

	return validator.Validate(params)
}

// ApplyParameters 应用参数
func (h *HotReloader) ApplyParameters(category string, params map[string]interface{}) error {
	// 先验证
	if err := h.ValidateParameters(category, params); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	// 再应用
	h.mu.RLock()
	applier, ok := h.appliers[category]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no applier registered for category: %s", category)
	}

	return applier.ApplyParameters(params)
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastReload
}

// ExecutionParameterValidator 执行限额参数验证器
type ExecutionParameterValidator struct{}

func (v *ExecutionParameterValidator) Validate(params map[string]interface{}) error {
	// 验证 max_order_notional
	if notional, ok := params["max_order_notional"].(float64); ok {
		if notional <= 0 {
			return fmt.Errorf("max_order_notional must be positive, got %f", notional)
		}
	}

	// 验证 default_max_slippage
	if slip, ok := params["default_max_slippage"].(float64); ok {
		if slip <= 0 || slip >= 1.0 {
			return fmt.Errorf("default_max_slippage must be between 0 and 1, got %f", slip)
		}
	}

	// 验证 slippage_buffer
	if buf, ok := params["slippage_buffer"].(float64); ok {
		if buf < 0 || buf > 0.5 {
			return fmt.Errorf("slippage_buffer must be between 0 and 0.5, got %f", buf)
		}
	}

	return nil
}

// BracketParameterValidator bracket 参数验证器
type BracketParameterValidator struct{}

func (v *BracketParameterValidator) Validate(params map[string]interface{}) error {
	// 验证 poll_interval_ms
	if interval, ok := params["poll_interval_ms"].(int); ok {
		if interval <= 0 {
			return fmt.Errorf("poll_interval_ms must be positive, got %d", interval)
		}
	}

	// 验证 missing_poll_limit
	if limit, ok := params["missing_poll_limit"].(int); ok {
		if limit <= 0 || limit > 100 {
			return fmt.Errorf("missing_poll_limit must be between 0 and 100, got %d", limit)
		}
	}

	return nil
}

// TwapParameterValidator TWAP 参数验证器
type TwapParameterValidator struct{}

func (v *TwapParameterValidator) Validate(params map[string]interface{}) error {
	// 验证 interval_ms
	if interval, ok := params["interval_ms"].(int); ok {
		if interval <= 0 {
			return fmt.Errorf("interval_ms must be positive, got %d", interval)
		}
	}

	// 验证 jitter
	if jitter, ok := params["jitter"].(float64); ok {
		if jitter < 0 || jitter >= 1.0 {
			return fmt.Errorf("jitter must be between 0 and 1, got %f", jitter)
		}
	}

	// 验证 max_duration
	if d, ok := params["max_duration"].(string); ok {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid max_duration: %w", err)
		}
	}

	return nil
}
