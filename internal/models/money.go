package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money 金额类型，统一保留 2 位小数，避免浮点误差。
type Money struct {
	decimal.Decimal
}

// NewMoney 从 decimal 创建 Money
func NewMoney(d decimal.Decimal) Money {
	return Money{Decimal: d.Round(2)}
}

// NewMoneyFromString 从字符串创建 Money
func NewMoneyFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money value %q: %w", s, err)
	}
	return NewMoney(d), nil
}

// NewMoneyFromFloat 从浮点数创建 Money
func NewMoneyFromFloat(f float64) Money {
	return NewMoney(decimal.NewFromFloat(f))
}

// Value 实现 driver.Valuer，以字符串存储保证精度
func (m Money) Value() (driver.Value, error) {
	return m.Decimal.Round(2).String(), nil
}

// Scan 实现 sql.Scanner
func (m *Money) Scan(value interface{}) error {
	if value == nil {
		m.Decimal = decimal.Zero
		return nil
	}
	switch v := value.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("scan money from string: %w", err)
		}
		m.Decimal = d
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("scan money from bytes: %w", err)
		}
		m.Decimal = d
	case float64:
		m.Decimal = decimal.NewFromFloat(v)
	case int64:
		m.Decimal = decimal.NewFromInt(v)
	default:
		return fmt.Errorf("unsupported money source type %T", value)
	}
	return nil
}

// MarshalJSON 输出两位小数字符串
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.Decimal.Round(2).StringFixed(2) + `"`), nil
}

// UnmarshalJSON 支持字符串和数字两种形式
func (m *Money) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("unmarshal money: %w", err)
	}
	m.Decimal = d
	return nil
}
