package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-exec-go/market"
	"trade-exec-go/venue"
)

func TestEstimateFillRequiresBook(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())

	_, err := svc.EstimateFill(context.Background(), venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "missing", Side: venue.Buy, Size: 10,
	})
	assert.Error(t, err)
}

func TestEstimateSlippageFallsBackToHeuristic(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())

	est := svc.EstimateSlippage(context.Background(), venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "missing", Side: venue.Buy,
		Price: 0.60, Size: 10,
	})

	assert.True(t, est.Heuristic)
	assert.InDelta(t, market.BaseSlippage+10*market.SizeImpact, est.Slippage, 1e-9)
	assert.InDelta(t, 0.60, est.Mid, 1e-9)
}

func TestProtectedBuyRejectsOnSlippage(t *testing.T) {
	svc, paper := newTestService(t, DefaultConfig())
	paper.SetBook("tok", market.Book{
		Bids: []market.Level{{Price: 0.40, Size: 500}},
		Asks: []market.Level{{Price: 0.42, Size: 500}},
	})

	// mid 0.41 全量吃 0.42，滑点约 2.4%，阈值覆盖为 1% 触发拒绝
	res := svc.ProtectedBuy(context.Background(), venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "tok",
		Price: 0.42, Size: 100, MaxSlippage: 0.01,
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "slippage")

	orders, _ := paper.GetOpenOrders(context.Background())
	assert.Empty(t, orders, "被拒订单不应到达场所")
}

func TestProtectedBuyConvertsToLimit(t *testing.T) {
	svc, paper := newTestService(t, DefaultConfig())
	paper.SetBook("tok", market.Book{
		Bids: []market.Level{{Price: 0.54, Size: 500}},
		Asks: []market.Level{{Price: 0.56, Size: 500}},
	})

	res := svc.ProtectedBuy(context.Background(), venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "tok", Price: 0.56, Size: 100,
	})
	require.True(t, res.Success, res.Error)

	o, err := paper.GetOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	// 期望价 0.56 加 1% 缓冲
	assert.InDelta(t, 0.56*1.01, o.Price, 1e-9)
	assert.Equal(t, venue.TypeLimit, o.Type)
}

func TestProtectedSellBuffersDownward(t *testing.T) {
	svc, paper := newTestService(t, DefaultConfig())
	paper.SetBook("tok", market.Book{
		Bids: []market.Level{{Price: 0.54, Size: 500}},
		Asks: []market.Level{{Price: 0.56, Size: 500}},
	})

	res := svc.ProtectedSell(context.Background(), venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "tok", Price: 0.54, Size: 100,
	})
	require.True(t, res.Success, res.Error)

	o, err := paper.GetOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.InDelta(t, 0.54*0.99, o.Price, 1e-9)
}

func TestProtectedLimitPriceClamped(t *testing.T) {
	svc, paper := newTestService(t, Config{
		MaxOrderNotional:   10000,
		DefaultMaxSlippage: 0.5,
		SlippageBuffer:     0.10,
		ConvertToLimit:     true,
	})
	paper.SetBook("tok", market.Book{
		Bids: []market.Level{{Price: 0.96, Size: 500}},
		Asks: []market.Level{{Price: 0.98, Size: 500}},
	})

	// 0.98 * 1.10 会超出 0.99，应收敛到上限
	res := svc.ProtectedBuy(context.Background(), venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "tok", Price: 0.98, Size: 100,
	})
	require.True(t, res.Success, res.Error)

	o, err := paper.GetOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.InDelta(t, 0.99, o.Price, 1e-9)
}

func TestProtectedMarketModeWhenConversionDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConvertToLimit = false
	svc, paper := newTestService(t, cfg)
	paper.SetBook("tok", market.Book{
		Bids: []market.Level{{Price: 0.54, Size: 500}},
		Asks: []market.Level{{Price: 0.56, Size: 500}},
	})

	res := svc.ProtectedBuy(context.Background(), venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "tok", Price: 0.56, Size: 100,
	})
	require.True(t, res.Success, res.Error)

	o, err := paper.GetOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, venue.TypeMarket, o.Type)
	assert.InDelta(t, 0.99, o.Price, 1e-9)
}

func TestProtectedUsesDefaultThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultMaxSlippage = 0.01
	svc, paper := newTestService(t, cfg)
	paper.SetBook("tok", market.Book{
		Bids: []market.Level{{Price: 0.40, Size: 500}},
		Asks: []market.Level{{Price: 0.42, Size: 500}},
	})

	// 未提供单笔覆盖时使用服务默认阈值
	res := svc.ProtectedBuy(context.Background(), venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "tok", Price: 0.42, Size: 100,
	})
	assert.False(t, res.Success)
}
