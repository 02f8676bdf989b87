package order

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"grid-trader-go/inventory"
)

// InsufficientBalanceError 下单冻结失败（可恢复，调用方可缩小数量重试）。
type InsufficientBalanceError = inventory.InsufficientBalanceError

var (
	ErrLevelOccupied = errors.New("level already has a live order on this side")
	ErrInvalidOrder  = errors.New("invalid order")
	ErrInvalidFill   = errors.New("invalid fill")
)

// UnknownOrderError 订单 id 不在账本中。
type UnknownOrderError struct {
	OrderID string
}

func (e *UnknownOrderError) Error() string {
	return fmt.Sprintf("unknown order %q", e.OrderID)
}

// InvalidStateError 非法状态转换，例如对终态订单撤单。
type InvalidStateError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("order %s: illegal state transition: %s -> %s", e.OrderID, e.From, e.To)
}

// OverfillError 累计成交数量将超过委托数量。
type OverfillError struct {
	OrderID  string
	Quantity decimal.Decimal
	Filled   decimal.Decimal
	Incoming decimal.Decimal
}

func (e *OverfillError) Error() string {
	return fmt.Sprintf("order %s overfilled: qty %s, filled %s, incoming %s",
		e.OrderID, e.Quantity.String(), e.Filled.String(), e.Incoming.String())
}

// SettlementError 成交结算会让余额为负，说明账本与执行端不同步。
type SettlementError struct {
	OrderID string
	Err     error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("order %s settlement: %v", e.OrderID, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

// IsConsistencyError 报告 err 是否为账本一致性错误；这类错误应停止该网格。
func IsConsistencyError(err error) bool {
	var (
		unknown *UnknownOrderError
		state   *InvalidStateError
		over    *OverfillError
		settle  *SettlementError
	)
	return errors.As(err, &unknown) || errors.As(err, &state) ||
		errors.As(err, &over) || errors.As(err, &settle) || errors.Is(err, ErrInvalidFill)
}
