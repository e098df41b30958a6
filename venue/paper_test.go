package venue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-exec-go/market"
)

func TestPaperVenuePlaceAndGet(t *testing.T) {
	p := NewPaperVenue(Polymarket)
	ctx := context.Background()

	res, err := p.PlaceOrder(ctx, OrderRequest{
		TokenID: "tok", Side: Buy, Price: 0.55, Size: 10, Type: TypeLimit,
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotEmpty(t, res.OrderID)

	o, err := p.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, o.Status)
	assert.InDelta(t, 10.0, o.RemainingSize, 1e-9)
	assert.Equal(t, Polymarket, o.Venue)

	_, err = p.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestPaperVenueFill(t *testing.T) {
	p := NewPaperVenue(Polymarket)
	ctx := context.Background()

	res, _ := p.PlaceOrder(ctx, OrderRequest{TokenID: "tok", Side: Buy, Price: 0.55, Size: 10})
	require.NoError(t, p.Fill(res.OrderID, 0.56))

	o, err := p.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, o.Status)
	assert.InDelta(t, 0.56, o.AvgFillPrice, 1e-9)
	assert.Zero(t, o.RemainingSize)

	// 成交价为 0 时按挂单价成交
	res2, _ := p.PlaceOrder(ctx, OrderRequest{TokenID: "tok", Side: Sell, Price: 0.60, Size: 5})
	require.NoError(t, p.Fill(res2.OrderID, 0))
	o2, _ := p.GetOrder(ctx, res2.OrderID)
	assert.InDelta(t, 0.60, o2.AvgFillPrice, 1e-9)
}

func TestPaperVenueFailNext(t *testing.T) {
	p := NewPaperVenue(Polymarket)
	ctx := context.Background()

	p.FailNext(errors.New("rate limited"))
	_, err := p.PlaceOrder(ctx, OrderRequest{TokenID: "tok", Side: Buy, Price: 0.55, Size: 10})
	assert.EqualError(t, err, "rate limited")

	// 故障只注入一次
	res, err := p.PlaceOrder(ctx, OrderRequest{TokenID: "tok", Side: Buy, Price: 0.55, Size: 10})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestPaperVenuePurge(t *testing.T) {
	// 模拟市场结算：订单记录整体消失
	p := NewPaperVenue(Polymarket)
	ctx := context.Background()

	res, _ := p.PlaceOrder(ctx, OrderRequest{TokenID: "tok", Side: Buy, Price: 0.55, Size: 10})
	p.Purge()

	_, err := p.GetOrder(ctx, res.OrderID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestPaperVenueCancelAllFilter(t *testing.T) {
	p := NewPaperVenue(Polymarket)
	ctx := context.Background()

	a, _ := p.PlaceOrder(ctx, OrderRequest{TokenID: "tok-a", Side: Buy, Price: 0.55, Size: 10})
	b, _ := p.PlaceOrder(ctx, OrderRequest{TokenID: "tok-b", Side: Buy, Price: 0.55, Size: 10})

	require.NoError(t, p.CancelAll(ctx, "tok-a"))
	oa, _ := p.GetOrder(ctx, a.OrderID)
	ob, _ := p.GetOrder(ctx, b.OrderID)
	assert.Equal(t, StatusCancelled, oa.Status)
	assert.Equal(t, StatusOpen, ob.Status)

	// 已成交订单不被撤销覆盖
	require.NoError(t, p.Fill(b.OrderID, 0))
	require.NoError(t, p.CancelAll(ctx, ""))
	ob, _ = p.GetOrder(ctx, b.OrderID)
	assert.Equal(t, StatusFilled, ob.Status)
}

func TestPaperVenueOrderBook(t *testing.T) {
	p := NewPaperVenue(Polymarket)
	ctx := context.Background()

	_, err := p.GetOrderBook(ctx, "tok")
	assert.Error(t, err)

	p.SetBook("tok", market.Book{
		Bids: []market.Level{{Price: 0.54, Size: 100}},
		Asks: []market.Level{{Price: 0.56, Size: 100}},
	})
	book, err := p.GetOrderBook(ctx, "tok")
	require.NoError(t, err)
	assert.InDelta(t, 0.55, book.Mid(), 1e-9)
}

func TestPaperVenueOrderBookIsCopy(t *testing.T) {
	p := NewPaperVenue(Polymarket)
	ctx := context.Background()

	// 存入乱序档位；调用方会就地排序自己的副本
	p.SetBook("tok", market.Book{
		Asks: []market.Level{
			{Price: 0.60, Size: 10},
			{Price: 0.56, Size: 20},
		},
	})

	first, err := p.GetOrderBook(ctx, "tok")
	require.NoError(t, err)
	market.EstimateFill(first, market.Buy, 15) // Normalize 就地排序

	second, err := p.GetOrderBook(ctx, "tok")
	require.NoError(t, err)
	assert.InDelta(t, 0.60, second.Asks[0].Price, 1e-9, "场所持有的档位顺序不受调用方影响")

	// 两次取到的切片互不共享底层数组
	first.Asks[0].Size = 999
	assert.InDelta(t, 10.0, second.Asks[0].Size, 1e-9)
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusOpen.IsTerminal())
	for _, s := range []Status{StatusFilled, StatusCancelled, StatusExpired, StatusRejected} {
		assert.True(t, s.IsTerminal(), string(s))
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(Polymarket)
	assert.ErrorIs(t, err, ErrVenueNotConfigured)

	p := NewPaperVenue(Polymarket)
	r.Register(Polymarket, p)
	got, err := r.Get(Polymarket)
	require.NoError(t, err)
	assert.Same(t, p, got)
	assert.Len(t, r.Venues(), 1)
}
