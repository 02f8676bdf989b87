package order

import (
	"time"

	"github.com/shopspring/decimal"

	"grid-trader-go/inventory"
)

// Side 买卖方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Status represents order lifecycle.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusOpen      Status = "OPEN"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
)

// FeeMode 决定手续费从哪种资产扣除。
type FeeMode string

const (
	// FeeInReceived 买入扣基础资产、卖出扣计价资产（现货交易所的默认做法）。
	FeeInReceived FeeMode = "received"
	// FeeInQuote 始终以计价资产收取。
	FeeInQuote FeeMode = "quote"
)

// FeeAsset 返回某方向成交时手续费所用资产。
func (m FeeMode) FeeAsset(side Side) inventory.Asset {
	if m == FeeInReceived && side == SideBuy {
		return inventory.AssetBase
	}
	return inventory.AssetQuote
}

// Order 由 Ledger 独占持有；外部拿到的都是副本。
type Order struct {
	ID         string          `json:"id"`
	ExchangeID string          `json:"exchange_id,omitempty"`
	LevelIndex int             `json:"level_index"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Filled     decimal.Decimal `json:"filled"`
	// Reserved 当前仍冻结的金额（买单为计价资产，卖单为基础资产）
	Reserved decimal.Decimal `json:"reserved"`
	// Received 扣除同资产手续费后实际到手的数量（买单为基础资产，卖单为计价资产）
	Received  decimal.Decimal `json:"received"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`

	initialReserved decimal.Decimal
}

// ReserveAsset 返回挂单冻结的资产。
func (o Order) ReserveAsset() inventory.Asset {
	if o.Side == SideBuy {
		return inventory.AssetQuote
	}
	return inventory.AssetBase
}

// Remaining 未成交数量。
func (o Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// Live 订单仍占用档位（PENDING 或 OPEN）。
func (o Order) Live() bool {
	return o.Status == StatusPending || o.Status == StatusOpen
}

// Fill 成交记录，一经写入不可修改。
type Fill struct {
	OrderID   string          `json:"order_id"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Fee       decimal.Decimal `json:"fee"`
	FeeAsset  inventory.Asset `json:"fee_asset"`
	Timestamp time.Time       `json:"timestamp"`
}

// Notional = price * quantity
func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(f.Quantity)
}
