package twap

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"trade-exec-go/infrastructure/logger"
	"trade-exec-go/internal/store"
	"trade-exec-go/metrics"
	"trade-exec-go/venue"
)

// Status TWAP 生命周期状态。分片级失败不改变顶层状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal 判断是否终态。
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// 事件类型。
const (
	EventStarted     = "started"
	EventSliceFilled = "slice_filled"
	EventSliceFailed = "slice_failed"
	EventProgress    = "progress"
	EventCompleted   = "completed"
	EventCancelled   = "cancelled"
)

// MinSliceDelay 抖动后的调度间隔下限。
const MinSliceDelay = 100 * time.Millisecond

// Executor 调度器对执行服务的最小依赖。
type Executor interface {
	PlaceLimit(ctx context.Context, side venue.Side, req venue.OrderRequest) venue.OrderResult
	CancelOrder(ctx context.Context, v venue.Venue, orderID string) error
}

// Recorder 持久化依赖；*store.Store 满足该接口。
type Recorder interface {
	SaveTwap(rec store.TwapRecord) error
}

// Config TWAP 父单配置。
type Config struct {
	Owner   string
	Venue   venue.Venue
	TokenID string
	Side    venue.Side

	TotalSize float64
	SliceSize float64
	Price     float64 // 分片限价；0 表示钉在不利极值（0.99 买 / 0.01 卖）
	// PriceLimit 整单成交价保护线：买单成交价高于该值（卖单低于）
	// 时放弃剩余调度，为整个父单兜底最差可接受价格。0 关闭。
	PriceLimit float64
	OrderType  venue.OrderType

	Interval    time.Duration
	Jitter      float64       // 间隔抖动比例 [0,1)，避免完全周期性的可探测执行
	MaxDuration time.Duration // 硬性墙钟超时，无视进度强制撤销；0 关闭
}

// Progress 执行进度快照，随事件发出。
type Progress struct {
	ID              string
	Status          Status
	Reason          string
	Side            venue.Side
	TotalSize       float64
	FilledSize      float64
	AvgPrice        float64 // 成交量加权均价
	SlicesCompleted int
	LastOrderID     string
}

// Event 调度器生命周期事件。
type Event struct {
	Type     string
	Progress Progress
}

// Listener 观察者回调，实例级注册。
type Listener func(Event)

// Scheduler 将大单拆分为时间分布的子单。分片在循环 goroutine 内
// 同步执行，慢请求不会与下一次触发重叠。
type Scheduler struct {
	cfg  Config
	exec Executor
	rec  Recorder
	log  *logger.Logger
	rng  *rand.Rand

	mu          sync.Mutex
	id          string
	status      Status
	reason      string
	filledSize  float64
	costTotal   float64
	slices      int
	lastOrderID string
	listeners   []Listener
	stopLoop    context.CancelFunc
	maxTimer    *time.Timer
	createdAt   time.Time
}

// New 创建 TWAP 调度器并持久化 pending 记录。
func New(ex Executor, rec Recorder, cfg Config, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.OrderType == "" {
		cfg.OrderType = venue.TypeLimit
	}
	s := &Scheduler{
		cfg:       cfg,
		exec:      ex,
		rec:       rec,
		log:       log,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		id:        uuid.NewString(),
		status:    StatusPending,
		createdAt: time.Now().UTC(),
	}
	s.persist()
	return s
}

// IcebergConfig 冰山模式配置：每次只露出 VisibleSize。
type IcebergConfig struct {
	Owner       string
	Venue       venue.Venue
	TokenID     string
	Side        venue.Side
	TotalSize   float64
	VisibleSize float64
	Price       float64
	PriceLimit  float64
	Interval    time.Duration
	Jitter      float64
	MaxDuration time.Duration
}

// NewIceberg 冰山单：复用 TWAP 调度器，sliceSize=visibleSize。
// 这是固定间隔近似，不是成交后即时补挂的真冰山语义；该近似是
// 有意为之，保持原样。
func NewIceberg(ex Executor, rec Recorder, cfg IcebergConfig, log *logger.Logger) *Scheduler {
	return New(ex, rec, Config{
		Owner:       cfg.Owner,
		Venue:       cfg.Venue,
		TokenID:     cfg.TokenID,
		Side:        cfg.Side,
		TotalSize:   cfg.TotalSize,
		SliceSize:   cfg.VisibleSize,
		Price:       cfg.Price,
		PriceLimit:  cfg.PriceLimit,
		Interval:    cfg.Interval,
		Jitter:      cfg.Jitter,
		MaxDuration: cfg.MaxDuration,
	}, log)
}

// FromRecord 从持久化记录重建调度器（恢复路径）。
// 已完成的进度被还原，已成交分片绝不重复下单。
func FromRecord(ex Executor, rec Recorder, r store.TwapRecord, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	cfg := Config{
		Owner:       r.Owner,
		Venue:       venue.Venue(r.Venue),
		TokenID:     r.TokenID,
		Side:        venue.Side(r.Side),
		TotalSize:   r.TotalSize,
		SliceSize:   r.SliceSize,
		Price:       r.Price,
		PriceLimit:  r.PriceLimit,
		OrderType:   venue.OrderType(r.OrderType),
		Interval:    time.Duration(r.IntervalMs) * time.Millisecond,
		Jitter:      r.JitterFrac,
		MaxDuration: time.Duration(r.MaxDurationMs) * time.Millisecond,
	}
	if cfg.OrderType == "" {
		cfg.OrderType = venue.TypeLimit
	}
	return &Scheduler{
		cfg:         cfg,
		exec:        ex,
		rec:         rec,
		log:         log,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		id:          r.ID,
		status:      Status(r.Status),
		filledSize:  r.FilledSize,
		costTotal:   r.CostTotal,
		slices:      r.SlicesCompleted,
		lastOrderID: r.LastOrderID,
		createdAt:   r.CreatedAt,
	}
}

// ID 返回调度器标识。
func (s *Scheduler) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Status 当前状态。
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// OnEvent 注册观察者。
func (s *Scheduler) OnEvent(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Start 进入 executing，布置硬超时定时器，立刻执行首个分片
// （无初始等待），其后按抖动间隔调度。
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return fmt.Errorf("twap %s already terminal: %s", s.id, s.status)
	}
	if s.filledSize >= s.cfg.TotalSize {
		// 恢复时发现已全部成交，直接补一个 completed
		s.status = StatusCompleted
		s.mu.Unlock()
		s.persist()
		s.emit(EventCompleted)
		return nil
	}
	s.status = StatusExecuting
	s.mu.Unlock()
	s.persist()
	metrics.ActiveTwaps.Inc()
	s.emit(EventStarted)

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.stopLoop = cancel
	if s.cfg.MaxDuration > 0 {
		s.maxTimer = time.AfterFunc(s.cfg.MaxDuration, func() {
			s.abort(context.Background(), "max duration exceeded")
		})
	}
	s.mu.Unlock()

	go s.run(loopCtx)
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	timer := time.NewTimer(0) // 首个分片立即执行
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if s.Status() != StatusExecuting {
			return
		}
		if done := s.executeSlice(ctx); done {
			return
		}
		timer.Reset(s.nextDelay())
	}
}

// executeSlice 执行一个分片。返回 true 表示调度结束。
// 分片失败只通知不终止，下个周期重试；撤销与硬超时是仅有的出口。
func (s *Scheduler) executeSlice(ctx context.Context) bool {
	s.mu.Lock()
	if s.status != StatusExecuting {
		s.mu.Unlock()
		return true
	}
	remaining := s.cfg.TotalSize - s.filledSize
	s.mu.Unlock()

	size := s.cfg.SliceSize
	if remaining < size {
		size = remaining // 末片可小于 sliceSize
	}
	if size <= 0 {
		s.complete()
		return true
	}

	price := s.cfg.Price
	if price <= 0 {
		price = 0.99
		if s.cfg.Side == venue.Sell {
			price = 0.01
		}
	}

	res := s.exec.PlaceLimit(ctx, s.cfg.Side, venue.OrderRequest{
		Venue:   s.cfg.Venue,
		TokenID: s.cfg.TokenID,
		Price:   price,
		Size:    size,
		Type:    s.cfg.OrderType,
	})
	if !res.Success {
		metrics.TwapSlices.WithLabelValues("failed").Inc()
		s.log.LogLifecycle("twap", s.idLocked(), EventSliceFailed, map[string]interface{}{
			"size": size, "error": res.Error,
		})
		s.emit(EventSliceFailed)
		return false
	}

	fillPrice := res.AvgPrice
	if fillPrice <= 0 {
		fillPrice = price
	}

	// 价格保护线：任一分片成交价越过不利方向即放弃剩余调度
	if s.cfg.PriceLimit > 0 && breachesLimit(s.cfg.Side, fillPrice, s.cfg.PriceLimit) {
		if err := s.exec.CancelOrder(ctx, s.cfg.Venue, res.OrderID); err != nil {
			s.log.LogError(err, map[string]interface{}{
				"twap_id": s.idLocked(), "order_id": res.OrderID,
			})
		}
		s.terminate(fmt.Sprintf("slice fill %.4f breached price limit %.4f", fillPrice, s.cfg.PriceLimit))
		return true
	}

	s.mu.Lock()
	s.filledSize += size
	s.costTotal += fillPrice * size
	s.slices++
	s.lastOrderID = res.OrderID
	finished := s.filledSize >= s.cfg.TotalSize
	s.mu.Unlock()

	metrics.TwapSlices.WithLabelValues("filled").Inc()
	s.persist()
	s.emit(EventSliceFilled)
	s.emit(EventProgress)

	if finished {
		s.complete()
		return true
	}
	return false
}

func breachesLimit(side venue.Side, fillPrice, limit float64) bool {
	if side == venue.Buy {
		return fillPrice > limit
	}
	return fillPrice < limit
}

// nextDelay 抖动后的下一次调度延迟：interval·(1±jitter)，
// 下限 MinSliceDelay，避免完全周期性的执行轨迹。
func (s *Scheduler) nextDelay() time.Duration {
	d := s.cfg.Interval
	if s.cfg.Jitter > 0 {
		s.mu.Lock()
		factor := 1 + (s.rng.Float64()*2-1)*s.cfg.Jitter
		s.mu.Unlock()
		d = time.Duration(float64(d) * factor)
	}
	if d < MinSliceDelay {
		d = MinSliceDelay
	}
	return d
}

func (s *Scheduler) complete() {
	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.status = StatusCompleted
	stop := s.stopLoop
	t := s.maxTimer
	s.mu.Unlock()

	if t != nil {
		t.Stop()
	}
	if stop != nil {
		stop()
	}
	s.persist()
	metrics.ActiveTwaps.Dec()
	s.log.LogLifecycle("twap", s.idLocked(), EventCompleted, nil)
	s.emit(EventCompleted)
}

// Cancel 手动撤销：停调度、尽力撤回最近子单、落盘、通知。
func (s *Scheduler) Cancel(ctx context.Context) error {
	s.abort(ctx, "cancelled by owner")
	return nil
}

// abort 内部终止路径（手动撤销与硬超时共用）。
func (s *Scheduler) abort(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	lastID := s.lastOrderID
	s.mu.Unlock()

	if lastID != "" {
		if err := s.exec.CancelOrder(ctx, s.cfg.Venue, lastID); err != nil {
			s.log.LogError(err, map[string]interface{}{
				"twap_id": s.idLocked(), "order_id": lastID,
			})
		}
	}
	s.terminate(reason)
}

func (s *Scheduler) terminate(reason string) {
	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	wasExecuting := s.status == StatusExecuting
	s.status = StatusCancelled
	s.reason = reason
	stop := s.stopLoop
	t := s.maxTimer
	s.mu.Unlock()

	if t != nil {
		t.Stop()
	}
	if stop != nil {
		stop()
	}
	s.persist()
	if wasExecuting {
		metrics.ActiveTwaps.Dec()
	}
	s.log.LogLifecycle("twap", s.idLocked(), EventCancelled, map[string]interface{}{"reason": reason})
	s.emit(EventCancelled)
}

// Progress 当前进度快照。
func (s *Scheduler) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

func (s *Scheduler) progressLocked() Progress {
	p := Progress{
		ID:              s.id,
		Status:          s.status,
		Reason:          s.reason,
		Side:            s.cfg.Side,
		TotalSize:       s.cfg.TotalSize,
		FilledSize:      s.filledSize,
		SlicesCompleted: s.slices,
		LastOrderID:     s.lastOrderID,
	}
	if s.filledSize > 0 {
		p.AvgPrice = s.costTotal / s.filledSize
	}
	return p
}

func (s *Scheduler) idLocked() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Scheduler) emit(t string) {
	s.mu.Lock()
	p := s.progressLocked()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(Event{Type: t, Progress: p})
	}
}

// persist 持久化进度。写失败记日志降级续跑，落盘状态最多滞后
// 一次迁移。
func (s *Scheduler) persist() {
	if s.rec == nil {
		return
	}
	s.mu.Lock()
	r := store.TwapRecord{
		ID:              s.id,
		Owner:           s.cfg.Owner,
		Venue:           string(s.cfg.Venue),
		TokenID:         s.cfg.TokenID,
		Side:            string(s.cfg.Side),
		TotalSize:       s.cfg.TotalSize,
		SliceSize:       s.cfg.SliceSize,
		Price:           s.cfg.Price,
		PriceLimit:      s.cfg.PriceLimit,
		OrderType:       string(s.cfg.OrderType),
		IntervalMs:      int(s.cfg.Interval / time.Millisecond),
		JitterFrac:      s.cfg.Jitter,
		MaxDurationMs:   int(s.cfg.MaxDuration / time.Millisecond),
		Status:          string(s.status),
		Reason:          s.reason,
		FilledSize:      s.filledSize,
		CostTotal:       s.costTotal,
		SlicesCompleted: s.slices,
		LastOrderID:     s.lastOrderID,
		CreatedAt:       s.createdAt,
	}
	s.mu.Unlock()
	if err := s.rec.SaveTwap(r); err != nil {
		metrics.PersistFailures.Inc()
		s.log.LogError(err, map[string]interface{}{"twap_id": r.ID})
	}
}
