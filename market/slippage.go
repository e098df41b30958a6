package market

// Side 与 venue.Side 解耦的本地方向常量，保持本包为纯函数库。
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// 无盘口数据时的启发式参数。
const (
	BaseSlippage    = 0.005  // 0.5% 基础滑点
	MaxSizeSlippage = 0.05   // 规模项上限 5%
	SizeImpact      = 0.0001 // 每单位规模的滑点增量
)

// Estimate 盘口滑点估算结果。Slippage 为相对中间价的有符号偏离，
// 不利方向为正。ThinBook 表示可成交量不足请求量的一半。
type Estimate struct {
	ExpectedPrice float64
	Slippage      float64
	Mid           float64
	BestBid       float64
	BestAsk       float64
	FillableSize  float64
	ThinBook      bool
	Heuristic     bool // true 表示走了无盘口回退路径
}

// EstimateFill 沿盘口逐档吃单估算平均成交价。买单走卖盘升序档位，
// 卖单走买盘降序档位，累计可成交量直至满足 size 或流动性耗尽。
func EstimateFill(book Book, side Side, size float64) Estimate {
	book.Normalize()

	levels := book.Asks
	if side == Sell {
		levels = book.Bids
	}

	remaining := size
	var filled, cost float64
	for _, l := range levels {
		if remaining <= 0 {
			break
		}
		take := l.Size
		if take > remaining {
			take = remaining
		}
		filled += take
		cost += l.Price * take
		remaining -= take
	}

	est := Estimate{
		Mid:          book.Mid(),
		BestBid:      book.BestBid(),
		BestAsk:      book.BestAsk(),
		FillableSize: filled,
		ThinBook:     filled < size/2,
	}
	if filled > 0 {
		est.ExpectedPrice = cost / filled
	}
	if est.Mid > 0 && est.ExpectedPrice > 0 {
		if side == Buy {
			est.Slippage = (est.ExpectedPrice - est.Mid) / est.Mid
		} else {
			est.Slippage = (est.Mid - est.ExpectedPrice) / est.Mid
		}
	}
	return est
}

// HeuristicEstimate 无盘口数据时的确定性回退：
// baseSlippage + min(5%, size*0.0001)，沿不利方向作用于参考价。
// refPrice 为 0 时取 0.5（双边预测市场的对称中点）。
func HeuristicEstimate(side Side, size, refPrice float64) Estimate {
	if refPrice <= 0 {
		refPrice = 0.5
	}
	slip := BaseSlippage + minFloat(MaxSizeSlippage, size*SizeImpact)
	expected := refPrice * (1 + slip)
	if side == Sell {
		expected = refPrice * (1 - slip)
	}
	return Estimate{
		ExpectedPrice: expected,
		Slippage:      slip,
		Mid:           refPrice,
		Heuristic:     true,
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
