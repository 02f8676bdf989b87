package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Asset 标识现货交易对的一侧资产。
type Asset string

const (
	AssetBase  Asset = "BASE"
	AssetQuote Asset = "QUOTE"
)

// InsufficientBalanceError 表示可用余额不足以完成冻结或结算。
type InsufficientBalanceError struct {
	Asset     Asset
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: required %s, available %s",
		e.Asset, e.Required.String(), e.Available.String())
}

// Inventory 余额与冻结额。只允许 OrderLedger 在订单状态变化时修改。
type Inventory struct {
	Base          decimal.Decimal `json:"base_balance"`
	Quote         decimal.Decimal `json:"quote_balance"`
	ReservedBase  decimal.Decimal `json:"reserved_base"`
	ReservedQuote decimal.Decimal `json:"reserved_quote"`
}

// New 以初始余额创建库存。
func New(base, quote decimal.Decimal) Inventory {
	return Inventory{Base: base, Quote: quote}
}

// Balance 返回某资产的总余额。
func (inv Inventory) Balance(a Asset) decimal.Decimal {
	if a == AssetBase {
		return inv.Base
	}
	return inv.Quote
}

// Reserved 返回某资产的冻结额。
func (inv Inventory) Reserved(a Asset) decimal.Decimal {
	if a == AssetBase {
		return inv.ReservedBase
	}
	return inv.ReservedQuote
}

// Available = balance - reserved
func (inv Inventory) Available(a Asset) decimal.Decimal {
	return inv.Balance(a).Sub(inv.Reserved(a))
}

// Reserve 冻结 amount；可用余额不足时不修改任何字段。
func (inv *Inventory) Reserve(a Asset, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("reserve %s: negative amount %s", a, amount.String())
	}
	avail := inv.Available(a)
	if avail.LessThan(amount) {
		return &InsufficientBalanceError{Asset: a, Required: amount, Available: avail}
	}
	inv.addReserved(a, amount)
	return nil
}

// Release 解冻 amount。调用方保证 amount 不超过该资产当前冻结额。
func (inv *Inventory) Release(a Asset, amount decimal.Decimal) {
	inv.addReserved(a, amount.Neg())
}

// Credit 增加余额。
func (inv *Inventory) Credit(a Asset, amount decimal.Decimal) {
	inv.addBalance(a, amount)
}

// Debit 扣减余额（冻结额由调用方先行释放）。
func (inv *Inventory) Debit(a Asset, amount decimal.Decimal) {
	inv.addBalance(a, amount.Neg())
}

// Verify 检查余额与冻结额均非负且冻结不超过余额。
func (inv Inventory) Verify() error {
	for _, a := range []Asset{AssetBase, AssetQuote} {
		if inv.Balance(a).IsNegative() {
			return fmt.Errorf("%s balance negative: %s", a, inv.Balance(a).String())
		}
		if inv.Reserved(a).IsNegative() {
			return fmt.Errorf("%s reservation negative: %s", a, inv.Reserved(a).String())
		}
		if inv.Available(a).IsNegative() {
			return &InsufficientBalanceError{Asset: a, Required: inv.Reserved(a), Available: inv.Balance(a)}
		}
	}
	return nil
}

func (inv *Inventory) addReserved(a Asset, delta decimal.Decimal) {
	if a == AssetBase {
		inv.ReservedBase = inv.ReservedBase.Add(delta)
		return
	}
	inv.ReservedQuote = inv.ReservedQuote.Add(delta)
}

func (inv *Inventory) addBalance(a Asset, delta decimal.Decimal) {
	if a == AssetBase {
		inv.Base = inv.Base.Add(delta)
		return
	}
	inv.Quote = inv.Quote.Add(delta)
}
