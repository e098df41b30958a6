package exec

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-exec-go/market"
	"trade-exec-go/venue"
)

func newTestService(t *testing.T, cfg Config) (*Service, *venue.PaperVenue) {
	t.Helper()
	paper := venue.NewPaperVenue(venue.Polymarket)
	registry := venue.NewRegistry()
	registry.Register(venue.Polymarket, paper)
	return New(registry, cfg, nil), paper
}

func defaultBook() market.Book {
	return market.Book{
		Bids: []market.Level{{Price: 0.54, Size: 500}},
		Asks: []market.Level{{Price: 0.56, Size: 500}},
	}
}

func TestValidateRequest(t *testing.T) {
	testCases := []struct {
		name    string
		req     venue.OrderRequest
		wantErr error
	}{
		{
			name:    "合法请求",
			req:     venue.OrderRequest{Price: 0.55, Size: 100},
			wantErr: nil,
		},
		{
			name:    "价格低于下限",
			req:     venue.OrderRequest{Price: 0.005, Size: 100},
			wantErr: ErrPriceRange,
		},
		{
			name:    "价格高于上限",
			req:     venue.OrderRequest{Price: 0.995, Size: 100},
			wantErr: ErrPriceRange,
		},
		{
			name:    "边界价格 0.01 合法",
			req:     venue.OrderRequest{Price: 0.01, Size: 100},
			wantErr: nil,
		},
		{
			name:    "边界价格 0.99 合法",
			req:     venue.OrderRequest{Price: 0.99, Size: 100},
			wantErr: nil,
		},
		{
			name:    "数量为零",
			req:     venue.OrderRequest{Price: 0.55, Size: 0},
			wantErr: ErrSizeInvalid,
		},
		{
			name:    "数量为负",
			req:     venue.OrderRequest{Price: 0.55, Size: -1},
			wantErr: ErrSizeInvalid,
		},
		{
			name:    "名义价值超限",
			req:     venue.OrderRequest{Price: 0.5, Size: 5000},
			wantErr: ErrNotional,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateRequest(tc.req, 1000)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestValidationFailureReturnsResult(t *testing.T) {
	// 校验失败以失败结果返回，不 panic 不抛错
	svc, _ := newTestService(t, DefaultConfig())

	res := svc.BuyLimit(context.Background(), venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "tok", Price: 1.5, Size: 10,
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "price must be between")
}

func TestBuySellLimitDispatch(t *testing.T) {
	svc, paper := newTestService(t, DefaultConfig())
	ctx := context.Background()

	buy := svc.BuyLimit(ctx, venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "tok", Price: 0.55, Size: 10,
	})
	require.True(t, buy.Success)

	sell := svc.SellLimit(ctx, venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "tok", Price: 0.60, Size: 10,
	})
	require.True(t, sell.Success)

	orders, err := paper.GetOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	sides := map[venue.Side]bool{}
	for _, o := range orders {
		sides[o.Side] = true
		assert.Equal(t, venue.TypeLimit, o.Type)
	}
	assert.True(t, sides[venue.Buy])
	assert.True(t, sides[venue.Sell])
}

func TestMarketOrdersPinPrice(t *testing.T) {
	svc, paper := newTestService(t, Config{MaxOrderNotional: 10000})
	ctx := context.Background()

	res := svc.MarketBuy(ctx, venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "tok", Size: 10,
	})
	require.True(t, res.Success)

	o, err := paper.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.InDelta(t, 0.99, o.Price, 1e-9)
	assert.Equal(t, venue.TypeMarket, o.Type)

	res = svc.MarketSell(ctx, venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "tok", Size: 10,
	})
	require.True(t, res.Success)

	o, err = paper.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, o.Price, 1e-9)
}

func TestDryRunShortCircuits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DryRun = true
	// 干跑不需要任何已注册场所
	svc := New(venue.NewRegistry(), cfg, nil)

	res := svc.BuyLimit(context.Background(), venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "tok", Price: 0.55, Size: 10,
	})

	assert.True(t, res.Success)
	assert.True(t, strings.HasPrefix(res.OrderID, "dryrun-"))
	assert.Equal(t, venue.StatusOpen, res.Status)

	// 干跑下校验仍然生效
	bad := svc.BuyLimit(context.Background(), venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "tok", Price: 0.55, Size: -1,
	})
	assert.False(t, bad.Success)
}

func TestVenueNotConfigured(t *testing.T) {
	svc := New(venue.NewRegistry(), DefaultConfig(), nil)

	res := svc.BuyLimit(context.Background(), venue.OrderRequest{
		Venue: venue.Kalshi, TokenID: "tok", Price: 0.55, Size: 10,
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "venue not configured")
}

func TestVenueErrorBecomesFailureResult(t *testing.T) {
	svc, paper := newTestService(t, DefaultConfig())
	paper.FailNext(errors.New("insufficient balance"))

	res := svc.BuyLimit(context.Background(), venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "tok", Price: 0.55, Size: 10,
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "insufficient balance")
}

func TestMakerCrossCheck(t *testing.T) {
	testCases := []struct {
		name     string
		side     venue.Side
		price    float64
		rejected bool
	}{
		{"买单低于卖一放行", venue.Buy, 0.55, false},
		{"买单等于卖一拒绝", venue.Buy, 0.56, true},
		{"买单穿越卖一拒绝", venue.Buy, 0.57, true},
		{"卖单高于买一放行", venue.Sell, 0.55, false},
		{"卖单等于买一拒绝", venue.Sell, 0.54, true},
		{"卖单穿越买一拒绝", venue.Sell, 0.53, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, paper := newTestService(t, DefaultConfig())
			paper.SetBook("tok", defaultBook())
			req := venue.OrderRequest{
				Venue: venue.Polymarket, TokenID: "tok", Price: tc.price, Size: 10,
			}

			var res venue.OrderResult
			if tc.side == venue.Buy {
				res = svc.MakerBuy(context.Background(), req)
			} else {
				res = svc.MakerSell(context.Background(), req)
			}

			if tc.rejected {
				assert.False(t, res.Success)
				assert.Contains(t, res.Error, "would cross")
			} else {
				assert.True(t, res.Success)
			}
		})
	}
}

func TestMakerCrossCheckNoBookPassesThrough(t *testing.T) {
	// 盘口不可得时放行，由场所裁决 post-only
	svc, _ := newTestService(t, DefaultConfig())

	res := svc.MakerBuy(context.Background(), venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "no-book", Price: 0.55, Size: 10,
	})

	assert.True(t, res.Success)
}

func TestCancelOrder(t *testing.T) {
	svc, paper := newTestService(t, DefaultConfig())
	ctx := context.Background()

	res := svc.BuyLimit(ctx, venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "tok", Price: 0.55, Size: 10,
	})
	require.True(t, res.Success)

	require.NoError(t, svc.CancelOrder(ctx, venue.Polymarket, res.OrderID))

	o, err := paper.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, venue.StatusCancelled, o.Status)

	err = svc.CancelOrder(ctx, venue.Polymarket, "missing")
	assert.ErrorIs(t, err, venue.ErrOrderNotFound)
}

func TestCancelAllOrdersTokenFilter(t *testing.T) {
	svc, paper := newTestService(t, DefaultConfig())
	ctx := context.Background()

	a := svc.BuyLimit(ctx, venue.OrderRequest{Venue: venue.Polymarket, TokenID: "tok-a", Price: 0.55, Size: 10})
	b := svc.BuyLimit(ctx, venue.OrderRequest{Venue: venue.Polymarket, TokenID: "tok-b", Price: 0.55, Size: 10})
	require.True(t, a.Success)
	require.True(t, b.Success)

	require.NoError(t, svc.CancelAllOrders(ctx, venue.Polymarket, "tok-a"))

	oa, _ := paper.GetOrder(ctx, a.OrderID)
	ob, _ := paper.GetOrder(ctx, b.OrderID)
	assert.Equal(t, venue.StatusCancelled, oa.Status)
	assert.Equal(t, venue.StatusOpen, ob.Status)

	// 空场所参数遍历全部已注册场所
	require.NoError(t, svc.CancelAllOrders(ctx, "", ""))
	ob, _ = paper.GetOrder(ctx, b.OrderID)
	assert.Equal(t, venue.StatusCancelled, ob.Status)
}

func TestGetOpenOrdersAggregates(t *testing.T) {
	paper1 := venue.NewPaperVenue(venue.Polymarket)
	paper2 := venue.NewPaperVenue(venue.Kalshi)
	registry := venue.NewRegistry()
	registry.Register(venue.Polymarket, paper1)
	registry.Register(venue.Kalshi, paper2)
	svc := New(registry, DefaultConfig(), nil)
	ctx := context.Background()

	require.True(t, svc.BuyLimit(ctx, venue.OrderRequest{Venue: venue.Polymarket, TokenID: "a", Price: 0.5, Size: 1}).Success)
	require.True(t, svc.BuyLimit(ctx, venue.OrderRequest{Venue: venue.Kalshi, TokenID: "b", Price: 0.5, Size: 1}).Success)

	all, err := svc.GetOpenOrders(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := svc.GetOpenOrders(ctx, venue.Kalshi)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestApplyLimits(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	svc.ApplyLimits(5, 0.05)
	res := svc.BuyLimit(ctx, venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "tok", Price: 0.55, Size: 100,
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "notional")

	// 非正值不覆盖现有限额
	svc.ApplyLimits(0, 0)
	res = svc.BuyLimit(ctx, venue.OrderRequest{
		Venue: venue.Polymarket, TokenID: "tok", Price: 0.55, Size: 100,
	})
	assert.False(t, res.Success)
}
