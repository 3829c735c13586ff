package model

import "github.com/shopspring/decimal"

// CentsToUSD переводит центы в доллары для полей *_usd внешнего контракта
func CentsToUSD(cents int64) float64 {
	f, _ := decimal.New(cents, -2).Float64()
	return f
}
