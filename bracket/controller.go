package bracket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"trade-exec-go/infrastructure/logger"
	"trade-exec-go/internal/store"
	"trade-exec-go/metrics"
	"trade-exec-go/venue"
)

// Status bracket 生命周期状态。
type Status string

const (
	StatusPending       Status = "pending"
	StatusActive        Status = "active"
	StatusTakeProfitHit Status = "take_profit_hit"
	StatusStopLossHit   Status = "stop_loss_hit"
	StatusCancelled     Status = "cancelled"
	StatusFailed        Status = "failed"
)

// IsTerminal pending/active 之外皆为终态。
func (s Status) IsTerminal() bool {
	return s != StatusPending && s != StatusActive
}

// DefaultMissingPollLimit 连续多少轮两腿均查无记录后判定市场已结算。
// 无权威市场状态源佐证，保持为可调策略常量。
const DefaultMissingPollLimit = 3

// DefaultPollInterval 默认轮询周期。
const DefaultPollInterval = 5 * time.Second

// Executor 控制器对执行服务的最小依赖。
type Executor interface {
	PlaceLimit(ctx context.Context, side venue.Side, req venue.OrderRequest) venue.OrderResult
	CancelOrder(ctx context.Context, v venue.Venue, orderID string) error
	GetOrder(ctx context.Context, v venue.Venue, orderID string) (*venue.OpenOrder, error)
}

// Recorder 持久化依赖；*store.Store 满足该接口。
type Recorder interface {
	SaveBracket(rec store.BracketRecord) error
}

// Config OCO 组合单配置。Side 为持仓方向，两条出场腿自动取反向。
type Config struct {
	Owner   string
	Venue   venue.Venue
	TokenID string
	Side    venue.Side
	Size    float64

	TakeProfitPrice   float64
	StopLossPrice     float64
	PartialTPFraction float64 // (0,1] 部分止盈比例；0 表示全仓止盈

	PollInterval     time.Duration
	MissingPollLimit int
}

// Snapshot 控制器状态快照，随事件发出。
type Snapshot struct {
	ID                string
	Status            Status
	Reason            string
	TakeProfitOrderID string
	StopLossOrderID   string
	FilledLeg         string
	FillPrice         float64
	Config            Config
}

// Event 生命周期事件；Type 与目标状态同名。
type Event struct {
	Type     Status
	Snapshot Snapshot
}

// Listener 观察者回调。每个控制器实例独立持有注册表，无全局总线。
type Listener func(Event)

// Controller 管理一对 OCO 出场单：止盈腿与止损腿互斥成交，
// 任一腿成交即撤销另一腿。
type Controller struct {
	cfg  Config
	exec Executor
	rec  Recorder
	log  *logger.Logger

	mu           sync.Mutex
	id           string
	status       Status
	reason       string
	tpOrderID    string
	slOrderID    string
	filledLeg    string
	fillPrice    float64
	missingPolls int
	resume       bool
	listeners    []Listener
	stopLoop     context.CancelFunc
	createdAt    time.Time
}

// New 创建 bracket 控制器并立即持久化 pending 记录。
func New(ex Executor, rec Recorder, cfg Config, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MissingPollLimit <= 0 {
		cfg.MissingPollLimit = DefaultMissingPollLimit
	}
	c := &Controller{
		cfg:       cfg,
		exec:      ex,
		rec:       rec,
		log:       log,
		id:        uuid.NewString(),
		status:    StatusPending,
		createdAt: time.Now().UTC(),
	}
	c.persist()
	return c
}

// FromRecord 从持久化记录重建控制器（恢复路径）。
// 已知的腿单号被预置，Start 会跳过下单直接进入轮询。
func FromRecord(ex Executor, rec Recorder, r store.BracketRecord, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.Nop()
	}
	cfg := Config{
		Owner:             r.Owner,
		Venue:             venue.Venue(r.Venue),
		TokenID:           r.TokenID,
		Side:              venue.Side(r.Side),
		Size:              r.Size,
		TakeProfitPrice:   r.TakeProfitPrice,
		StopLossPrice:     r.StopLossPrice,
		PartialTPFraction: r.PartialTPFraction,
		PollInterval:      time.Duration(r.PollIntervalMs) * time.Millisecond,
		MissingPollLimit:  r.MissingPollLimit,
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MissingPollLimit <= 0 {
		cfg.MissingPollLimit = DefaultMissingPollLimit
	}
	return &Controller{
		cfg:       cfg,
		exec:      ex,
		rec:       rec,
		log:       log,
		id:        r.ID,
		status:    Status(r.Status),
		tpOrderID: r.TakeProfitOrderID,
		slOrderID: r.StopLossOrderID,
		resume:    r.TakeProfitOrderID != "" || r.StopLossOrderID != "",
		createdAt: r.CreatedAt,
	}
}

// ID 返回控制器标识（持久化记录键）。
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Status 当前状态。
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OnEvent 注册生命周期观察者。
func (c *Controller) OnEvent(fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Start 下两条出场腿并启动轮询。恢复路径跳过下单。
// 止盈腿先下：若失败不下止损腿，不留单腿裸奔的组合。
// 止损腿失败时撤回已下的止盈腿再判 failed。
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status.IsTerminal() {
		c.mu.Unlock()
		return fmt.Errorf("bracket %s already terminal: %s", c.id, c.status)
	}
	if c.resume {
		c.status = StatusActive
		c.mu.Unlock()
		c.persist()
		metrics.ActiveBrackets.Inc()
		c.startPolling(ctx)
		return nil
	}
	c.mu.Unlock()

	exitSide := c.cfg.Side.Opposite()
	tpSize := c.cfg.Size
	if c.cfg.PartialTPFraction > 0 && c.cfg.PartialTPFraction < 1 {
		tpSize = c.cfg.Size * c.cfg.PartialTPFraction
	}

	tpRes := c.exec.PlaceLimit(ctx, exitSide, venue.OrderRequest{
		Venue:   c.cfg.Venue,
		TokenID: c.cfg.TokenID,
		Price:   c.cfg.TakeProfitPrice,
		Size:    tpSize,
	})
	if !tpRes.Success {
		c.fail(fmt.Sprintf("take-profit leg rejected: %s", tpRes.Error))
		return errors.New(tpRes.Error)
	}

	slRes := c.exec.PlaceLimit(ctx, exitSide, venue.OrderRequest{
		Venue:   c.cfg.Venue,
		TokenID: c.cfg.TokenID,
		Price:   c.cfg.StopLossPrice,
		Size:    c.cfg.Size,
	})
	if !slRes.Success {
		// 止盈腿已在场所挂着，撤回失败只记日志不阻塞 failed 判定
		if err := c.exec.CancelOrder(ctx, c.cfg.Venue, tpRes.OrderID); err != nil {
			c.log.LogError(err, map[string]interface{}{
				"bracket_id": c.id, "leg": "take_profit", "order_id": tpRes.OrderID,
			})
		}
		c.fail(fmt.Sprintf("stop-loss leg rejected: %s", slRes.Error))
		return errors.New(slRes.Error)
	}

	c.mu.Lock()
	if c.status.IsTerminal() {
		// 下腿期间被撤销（或已判终态）：撤销意图即权威，激活作废，
		// 回收两条刚挂出的腿
		st := c.status
		c.mu.Unlock()
		for _, leg := range []struct{ name, id string }{
			{"take_profit", tpRes.OrderID}, {"stop_loss", slRes.OrderID},
		} {
			if err := c.exec.CancelOrder(ctx, c.cfg.Venue, leg.id); err != nil {
				c.log.LogError(err, map[string]interface{}{
					"bracket_id": c.id, "leg": leg.name, "order_id": leg.id,
				})
			}
		}
		return fmt.Errorf("bracket %s went %s during leg placement", c.id, st)
	}
	c.tpOrderID = tpRes.OrderID
	c.slOrderID = slRes.OrderID
	c.status = StatusActive
	c.mu.Unlock()
	c.persist()
	metrics.ActiveBrackets.Inc()
	c.emit(StatusActive)
	c.startPolling(ctx)
	return nil
}

// startPolling 启动轮询 goroutine。tick 在循环内同步执行，
// 慢网络往返不会与下一次触发重叠。
func (c *Controller) startPolling(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.stopLoop = cancel
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				c.poll(loopCtx)
			}
		}
	}()
}

// poll 查询两腿状态。任一腿成交→记录成交、撤销另一腿、终态退出；
// 两腿连续 MissingPollLimit 轮均查无记录→按市场结算处理。
func (c *Controller) poll(ctx context.Context) {
	c.mu.Lock()
	if c.status != StatusActive {
		c.mu.Unlock()
		return
	}
	tpID, slID := c.tpOrderID, c.slOrderID
	c.mu.Unlock()

	type legView struct {
		name    string
		id      string
		order   *venue.OpenOrder
		missing bool
	}
	legs := make([]legView, 0, 2)
	if tpID != "" {
		legs = append(legs, legView{name: "take_profit", id: tpID})
	}
	if slID != "" {
		legs = append(legs, legView{name: "stop_loss", id: slID})
	}
	if len(legs) == 0 {
		return
	}

	allMissing := true
	for i := range legs {
		o, err := c.exec.GetOrder(ctx, c.cfg.Venue, legs[i].id)
		switch {
		case err == nil:
			legs[i].order = o
			allMissing = false
		case errors.Is(err, venue.ErrOrderNotFound):
			legs[i].missing = true
		default:
			// 瞬时网络错误：既不算成交也不算缺失，下轮重试
			allMissing = false
			c.log.LogError(err, map[string]interface{}{
				"bracket_id": c.id, "leg": legs[i].name, "order_id": legs[i].id,
			})
		}
	}

	for _, leg := range legs {
		if leg.order != nil && leg.order.Status == venue.StatusFilled {
			c.handleFill(ctx, leg.name, leg.id, leg.order)
			return
		}
	}

	c.mu.Lock()
	if allMissing {
		c.missingPolls++
	} else {
		c.missingPolls = 0
	}
	resolved := c.missingPolls >= c.cfg.MissingPollLimit
	c.mu.Unlock()

	if resolved {
		c.terminate(StatusCancelled, "all legs missing; market likely resolved")
	}
}

// handleFill 某腿成交：落终态、撤另一腿（尽力而为）、停轮询、通知。
func (c *Controller) handleFill(ctx context.Context, legName, legID string, o *venue.OpenOrder) {
	terminal := StatusTakeProfitHit
	sibling := ""
	c.mu.Lock()
	if c.status != StatusActive {
		c.mu.Unlock()
		return
	}
	if legName == "stop_loss" {
		terminal = StatusStopLossHit
		sibling = c.tpOrderID
	} else {
		sibling = c.slOrderID
	}
	c.filledLeg = legName
	c.fillPrice = o.AvgFillPrice
	if c.fillPrice == 0 {
		c.fillPrice = o.Price
	}
	c.status = terminal
	stop := c.stopLoop
	c.mu.Unlock()

	c.persist()
	metrics.ActiveBrackets.Dec()

	if sibling != "" {
		if err := c.exec.CancelOrder(ctx, c.cfg.Venue, sibling); err != nil {
			c.log.LogError(err, map[string]interface{}{
				"bracket_id": c.id, "sibling": sibling, "filled_leg": legName,
			})
		}
	}
	if stop != nil {
		stop()
	}
	c.log.LogLifecycle("bracket", c.id, string(terminal), map[string]interface{}{
		"filled_leg": legName, "order_id": legID, "fill_price": c.fillPrice,
	})
	c.emit(terminal)
}

// Cancel 手动撤销。撤销意图即权威：先落 cancelled 再并发撤两腿，
// 场所是否确认不改变已提交的状态。
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.status.IsTerminal() {
		c.mu.Unlock()
		return nil
	}
	wasActive := c.status == StatusActive
	c.status = StatusCancelled
	c.reason = "cancelled by owner"
	stop := c.stopLoop
	tpID, slID := c.tpOrderID, c.slOrderID
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	c.persist()
	if wasActive {
		metrics.ActiveBrackets.Dec()
	}
	c.emit(StatusCancelled)

	var wg sync.WaitGroup
	for _, leg := range []struct{ name, id string }{
		{"take_profit", tpID}, {"stop_loss", slID},
	} {
		if leg.id == "" {
			continue
		}
		wg.Add(1)
		go func(name, id string) {
			defer wg.Done()
			if err := c.exec.CancelOrder(ctx, c.cfg.Venue, id); err != nil {
				c.log.LogError(err, map[string]interface{}{
					"bracket_id": c.id, "leg": name, "order_id": id,
				})
			} else {
				c.log.LogOrder("bracket_leg_cancelled", id, map[string]interface{}{
					"bracket_id": c.id, "leg": name,
				})
			}
		}(leg.name, leg.id)
	}
	wg.Wait()
	return nil
}

// fail 置 failed 终态并通知。
func (c *Controller) fail(reason string) {
	c.terminate(StatusFailed, reason)
}

func (c *Controller) terminate(st Status, reason string) {
	c.mu.Lock()
	if c.status.IsTerminal() {
		c.mu.Unlock()
		return
	}
	wasActive := c.status == StatusActive
	c.status = st
	c.reason = reason
	stop := c.stopLoop
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	c.persist()
	if wasActive {
		metrics.ActiveBrackets.Dec()
	}
	c.log.LogLifecycle("bracket", c.id, string(st), map[string]interface{}{"reason": reason})
	c.emit(st)
}

// Snapshot 当前状态快照。
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		ID:                c.id,
		Status:            c.status,
		Reason:            c.reason,
		TakeProfitOrderID: c.tpOrderID,
		StopLossOrderID:   c.slOrderID,
		FilledLeg:         c.filledLeg,
		FillPrice:         c.fillPrice,
		Config:            c.cfg,
	}
}

func (c *Controller) emit(t Status) {
	c.mu.Lock()
	snap := c.snapshotLocked()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(Event{Type: t, Snapshot: snap})
	}
}

// persist 持久化当前状态。写失败记日志降级续跑：内存状态最多领先
// 落盘一次迁移，崩溃窗口内丢失的迁移由下一轮轮询重新推导。
func (c *Controller) persist() {
	if c.rec == nil {
		return
	}
	c.mu.Lock()
	r := store.BracketRecord{
		ID:                c.id,
		Owner:             c.cfg.Owner,
		Venue:             string(c.cfg.Venue),
		TokenID:           c.cfg.TokenID,
		Side:              string(c.cfg.Side),
		Size:              c.cfg.Size,
		TakeProfitPrice:   c.cfg.TakeProfitPrice,
		StopLossPrice:     c.cfg.StopLossPrice,
		PartialTPFraction: c.cfg.PartialTPFraction,
		PollIntervalMs:    int(c.cfg.PollInterval / time.Millisecond),
		MissingPollLimit:  c.cfg.MissingPollLimit,
		Status:            string(c.status),
		Reason:            c.reason,
		TakeProfitOrderID: c.tpOrderID,
		StopLossOrderID:   c.slOrderID,
		FilledLeg:         c.filledLeg,
		FillPrice:         c.fillPrice,
		CreatedAt:         c.createdAt,
	}
	c.mu.Unlock()
	if err := c.rec.SaveBracket(r); err != nil {
		metrics.PersistFailures.Inc()
		c.log.LogError(err, map[string]interface{}{"bracket_id": r.ID})
	}
}
