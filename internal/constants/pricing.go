package constants

import "github.com/shopspring/decimal"

// 订阅定价表，主货币单位。国际区走 USD，中国区走 CNY。
var planPricing = map[string]map[string]map[string]decimal.Decimal{
	PlanPro: {
		BillingCycleMonthly: {
			CurrencyUSD: decimal.NewFromInt(15),
			CurrencyCNY: decimal.NewFromInt(98),
		},
		BillingCycleYearly: {
			CurrencyUSD: decimal.NewFromInt(144),
			CurrencyCNY: decimal.NewFromInt(998),
		},
	},
	PlanEnterprise: {
		BillingCycleMonthly: {
			CurrencyUSD: decimal.NewFromInt(39),
			CurrencyCNY: decimal.NewFromInt(268),
		},
		BillingCycleYearly: {
			CurrencyUSD: decimal.NewFromInt(375),
			CurrencyCNY: decimal.NewFromInt(2598),
		},
	},
}

// PlanPrice 查询档位定价，未定义组合返回 false。
func PlanPrice(plan, cycle, currency string) (decimal.Decimal, bool) {
	cycles, ok := planPricing[plan]
	if !ok {
		return decimal.Zero, false
	}
	currencies, ok := cycles[cycle]
	if !ok {
		return decimal.Zero, false
	}
	price, ok := currencies[currency]
	return price, ok
}

// 金额启发式阈值：达到该金额视作企业档。
var (
	HeuristicMonthlyEnterpriseMin = decimal.NewFromInt(30)
	HeuristicYearlyEnterpriseMin  = decimal.NewFromInt(300)
)
