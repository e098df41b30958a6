package exec

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"trade-exec-go/market"
	"trade-exec-go/metrics"
	"trade-exec-go/venue"
)

// EstimateFill 基于实时盘口估算成交：买单走卖盘、卖单走买盘。
// 盘口不可得时返回错误，不做回退。
func (s *Service) EstimateFill(ctx context.Context, req venue.OrderRequest) (market.Estimate, error) {
	book, err := s.orderBook(ctx, req.Venue, req.TokenID)
	if err != nil {
		return market.Estimate{}, fmt.Errorf("fetch book: %w", err)
	}
	if book.Empty() {
		return market.Estimate{}, fmt.Errorf("empty book for %s", req.TokenID)
	}
	est := market.EstimateFill(book, market.Side(req.Side), req.Size)
	if est.ThinBook {
		metrics.ThinBook.Inc()
		s.log.Warn("thin book: less than half of requested size fillable",
			zap.String("venue", string(req.Venue)),
			zap.String("token", req.TokenID),
			zap.Float64("size", req.Size),
			zap.Float64("fillable", est.FillableSize),
		)
	}
	metrics.SlippageEstimate.WithLabelValues(string(req.Venue)).Set(est.Slippage)
	return est, nil
}

// EstimateSlippage 滑点估算；盘口不可得时回退到确定性启发式，
// 始终给出一个估算值。
func (s *Service) EstimateSlippage(ctx context.Context, req venue.OrderRequest) market.Estimate {
	est, err := s.EstimateFill(ctx, req)
	if err != nil {
		fallback := market.HeuristicEstimate(market.Side(req.Side), req.Size, req.Price)
		s.log.LogOrder("slippage_fallback", "", map[string]interface{}{
			"venue": req.Venue, "token": req.TokenID,
			"slippage": fallback.Slippage, "reason": err.Error(),
		})
		return fallback
	}
	return est
}

// ProtectedBuy 滑点保护买单：估算超过阈值直接拒绝；否则默认转为
// 带缓冲的限价单，即便盘口在估算与下单之间移动也有界。
func (s *Service) ProtectedBuy(ctx context.Context, req venue.OrderRequest) venue.OrderResult {
	req.Side = venue.Buy
	return s.placeProtected(ctx, req)
}

// ProtectedSell 滑点保护卖单。
func (s *Service) ProtectedSell(ctx context.Context, req venue.OrderRequest) venue.OrderResult {
	req.Side = venue.Sell
	return s.placeProtected(ctx, req)
}

func (s *Service) placeProtected(ctx context.Context, req venue.OrderRequest) venue.OrderResult {
	cfg := s.config()

	maxSlippage := cfg.DefaultMaxSlippage
	if req.MaxSlippage > 0 {
		maxSlippage = req.MaxSlippage
	}

	est := s.EstimateSlippage(ctx, req)
	if est.Slippage > maxSlippage {
		metrics.SlippageRejects.Inc()
		return venue.Failure(fmt.Sprintf(
			"estimated slippage %.4f exceeds max %.4f", est.Slippage, maxSlippage))
	}

	if !cfg.ConvertToLimit {
		if req.Side == venue.Buy {
			return s.MarketBuy(ctx, req)
		}
		return s.MarketSell(ctx, req)
	}

	// 限价转换：期望价加缓冲，买向上、卖向下，收敛到合法区间。
	limit := est.ExpectedPrice * (1 + cfg.SlippageBuffer)
	if req.Side == venue.Sell {
		limit = est.ExpectedPrice * (1 - cfg.SlippageBuffer)
	}
	req.Price = clampPrice(limit)
	req.Type = venue.TypeLimit
	return s.place(ctx, req)
}
