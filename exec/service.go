package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"trade-exec-go/infrastructure/logger"
	"trade-exec-go/market"
	"trade-exec-go/metrics"
	"trade-exec-go/venue"
)

// Config 执行服务配置。MaxOrderNotional 与 DefaultMaxSlippage
// 支持热更新（ApplyLimits）。
type Config struct {
	MaxOrderNotional   float64 // 单笔订单最大名义价值
	DefaultMaxSlippage float64 // 保护单默认最大滑点（如 0.03 = 3%）
	SlippageBuffer     float64 // 保护单转限价时的价格缓冲比例
	ConvertToLimit     bool    // 保护单是否转为限价单（默认开启）
	DryRun             bool    // 干跑模式：不触网，返回合成结果
}

// DefaultConfig 返回默认执行配置。
func DefaultConfig() Config {
	return Config{
		MaxOrderNotional:   1000,
		DefaultMaxSlippage: 0.03,
		SlippageBuffer:     0.01,
		ConvertToLimit:     true,
	}
}

// Service 统一订单执行服务：校验、干跑、分发到场所适配器。
type Service struct {
	venues *venue.Registry
	log    *logger.Logger

	mu  sync.RWMutex
	cfg Config
}

// New 创建执行服务。log 为 nil 时使用空日志器。
func New(venues *venue.Registry, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{venues: venues, cfg: cfg, log: log}
}

// ApplyLimits 热更新执行限额（配置重载时调用）。
func (s *Service) ApplyLimits(maxNotional, defaultMaxSlippage float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxNotional > 0 {
		s.cfg.MaxOrderNotional = maxNotional
	}
	if defaultMaxSlippage > 0 {
		s.cfg.DefaultMaxSlippage = defaultMaxSlippage
	}
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// BuyLimit 限价买单。
func (s *Service) BuyLimit(ctx context.Context, req venue.OrderRequest) venue.OrderResult {
	req.Side = venue.Buy
	if req.Type == "" {
		req.Type = venue.TypeLimit
	}
	return s.place(ctx, req)
}

// SellLimit 限价卖单。
func (s *Service) SellLimit(ctx context.Context, req venue.OrderRequest) venue.OrderResult {
	req.Side = venue.Sell
	if req.Type == "" {
		req.Type = venue.TypeLimit
	}
	return s.place(ctx, req)
}

// PlaceLimit 按方向分发限价单，为 bracket/twap 控制器提供统一入口。
func (s *Service) PlaceLimit(ctx context.Context, side venue.Side, req venue.OrderRequest) venue.OrderResult {
	if side == venue.Buy {
		return s.BuyLimit(ctx, req)
	}
	return s.SellLimit(ctx, req)
}

// MarketBuy 市价买单：价格钉在 0.99，FOK 立即成交或取消。
func (s *Service) MarketBuy(ctx context.Context, req venue.OrderRequest) venue.OrderResult {
	req.Side = venue.Buy
	req.Price = 0.99
	req.Type = venue.TypeMarket
	return s.place(ctx, req)
}

// MarketSell 市价卖单：价格钉在 0.01。
func (s *Service) MarketSell(ctx context.Context, req venue.OrderRequest) venue.OrderResult {
	req.Side = venue.Sell
	req.Price = 0.01
	req.Type = venue.TypeMarket
	return s.place(ctx, req)
}

// MakerBuy 只做 maker 的买单；若价格会吃掉卖盘则本地直接拒绝。
func (s *Service) MakerBuy(ctx context.Context, req venue.OrderRequest) venue.OrderResult {
	req.Side = venue.Buy
	req.Type = venue.TypeMaker
	req.MakerOnly = true
	return s.place(ctx, req)
}

// MakerSell 只做 maker 的卖单；若价格会吃掉买盘则本地直接拒绝。
func (s *Service) MakerSell(ctx context.Context, req venue.OrderRequest) venue.OrderResult {
	req.Side = venue.Sell
	req.Type = venue.TypeMaker
	req.MakerOnly = true
	return s.place(ctx, req)
}

// place 统一下单路径：校验 → 干跑短路 → maker 预检 → 分发适配器。
// 所有预期内失败以失败结果返回，绝不向上抛出。
func (s *Service) place(ctx context.Context, req venue.OrderRequest) venue.OrderResult {
	cfg := s.config()
	if err := validateRequest(req, cfg.MaxOrderNotional); err != nil {
		metrics.OrderFailures.WithLabelValues(string(req.Venue), "validation").Inc()
		return venue.Failure(err.Error())
	}

	if cfg.DryRun {
		return s.dryRunResult(req)
	}

	adapter, err := s.venues.Get(req.Venue)
	if err != nil {
		metrics.OrderFailures.WithLabelValues(string(req.Venue), "config").Inc()
		return venue.Failure(err.Error())
	}

	if req.MakerOnly {
		if res, rejected := s.makerCrossCheck(ctx, adapter, req); rejected {
			return res
		}
	}

	result, err := adapter.PlaceOrder(ctx, req)
	if err != nil {
		metrics.OrderFailures.WithLabelValues(string(req.Venue), "venue").Inc()
		s.log.LogError(err, map[string]interface{}{
			"venue": req.Venue, "token": req.TokenID, "side": req.Side,
		})
		return venue.Failure(err.Error())
	}
	if result.Success {
		metrics.OrdersPlaced.WithLabelValues(string(req.Venue), string(req.Side), string(req.Type)).Inc()
		s.log.LogOrder("order_placed", result.OrderID, map[string]interface{}{
			"venue": req.Venue, "token": req.TokenID, "side": req.Side,
			"price": req.Price, "size": req.Size, "type": req.Type,
		})
	}
	return result
}

// makerCrossCheck 下单前对照盘口：post-only 订单若会穿越价差，
// 与其被场所弹回不如本地拒绝。盘口不可得时放行，由场所裁决。
func (s *Service) makerCrossCheck(ctx context.Context, adapter venue.Adapter, req venue.OrderRequest) (venue.OrderResult, bool) {
	book, err := adapter.GetOrderBook(ctx, req.TokenID)
	if err != nil {
		return venue.OrderResult{}, false
	}
	if req.Side == venue.Buy {
		if ask := book.BestAsk(); ask > 0 && req.Price >= ask {
			return venue.Failure(fmt.Sprintf("maker buy at %.4f would cross best ask %.4f", req.Price, ask)), true
		}
	} else {
		if bid := book.BestBid(); bid > 0 && req.Price <= bid {
			return venue.Failure(fmt.Sprintf("maker sell at %.4f would cross best bid %.4f", req.Price, bid)), true
		}
	}
	return venue.OrderResult{}, false
}

// dryRunResult 干跑合成结果：成功 + 生成订单号 + OPEN 状态，不触网。
func (s *Service) dryRunResult(req venue.OrderRequest) venue.OrderResult {
	return venue.OrderResult{
		Success:  true,
		OrderID:  "dryrun-" + uuid.NewString(),
		Status:   venue.StatusOpen,
		AvgPrice: req.Price,
	}
}

// CancelOrder 撤销指定订单。
func (s *Service) CancelOrder(ctx context.Context, v venue.Venue, orderID string) error {
	if s.config().DryRun {
		return nil
	}
	adapter, err := s.venues.Get(v)
	if err != nil {
		return err
	}
	if err := adapter.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	s.log.LogOrder("order_cancelled", orderID, map[string]interface{}{"venue": v})
	return nil
}

// CancelAllOrders 撤销挂单。v 为空时遍历全部已注册场所；
// tokenID 非空时仅撤该市场。
func (s *Service) CancelAllOrders(ctx context.Context, v venue.Venue, tokenID string) error {
	if s.config().DryRun {
		return nil
	}
	targets := []venue.Venue{v}
	if v == "" {
		targets = s.venues.Venues()
	}
	var lastErr error
	for _, target := range targets {
		adapter, err := s.venues.Get(target)
		if err != nil {
			lastErr = err
			continue
		}
		if err := adapter.CancelAll(ctx, tokenID); err != nil {
			lastErr = fmt.Errorf("cancel all on %s: %w", target, err)
		}
	}
	return lastErr
}

// GetOpenOrders 查询挂单。v 为空时聚合全部场所。
func (s *Service) GetOpenOrders(ctx context.Context, v venue.Venue) ([]venue.OpenOrder, error) {
	targets := []venue.Venue{v}
	if v == "" {
		targets = s.venues.Venues()
	}
	var out []venue.OpenOrder
	for _, target := range targets {
		adapter, err := s.venues.Get(target)
		if err != nil {
			return nil, err
		}
		orders, err := adapter.GetOpenOrders(ctx)
		if err != nil {
			return nil, fmt.Errorf("open orders on %s: %w", target, err)
		}
		out = append(out, orders...)
	}
	return out, nil
}

// GetOrder 查询单笔订单；场所无记录时返回 venue.ErrOrderNotFound。
func (s *Service) GetOrder(ctx context.Context, v venue.Venue, orderID string) (*venue.OpenOrder, error) {
	adapter, err := s.venues.Get(v)
	if err != nil {
		return nil, err
	}
	return adapter.GetOrder(ctx, orderID)
}

// orderBook 获取盘口供估算使用，失败时返回错误由调用方决定回退。
func (s *Service) orderBook(ctx context.Context, v venue.Venue, tokenID string) (market.Book, error) {
	adapter, err := s.venues.Get(v)
	if err != nil {
		return market.Book{}, err
	}
	return adapter.GetOrderBook(ctx, tokenID)
}
