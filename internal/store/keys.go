package store

import "fmt"

// Pebble 键空间：
//   br:<id> → BracketRecord (JSON)
//   tw:<id> → TwapRecord (JSON)
// owner 维度的"活跃记录"查询通过前缀扫描 + 字段过滤实现。
const (
	prefixBracket = "br:"
	prefixTwap    = "tw:"
)

func bracketKey(id string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixBracket, id))
}

func twapKey(id string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixTwap, id))
}

// keyUpperBound 返回前缀扫描的开区间上界。
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
