package order

// StateTransition 状态转换
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine 订单状态机。状态集合封闭：PENDING -> OPEN -> {FILLED, CANCELLED}，
// 以及下单被拒时的 PENDING -> CANCELLED。
type StateMachine struct {
	transitions map[StateTransition]bool
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	legalTransitions := []StateTransition{
		{StatusPending, StatusOpen},
		{StatusPending, StatusCancelled},

		{StatusOpen, StatusOpen}, // 部分成交
		{StatusOpen, StatusFilled},
		{StatusOpen, StatusCancelled},

		// 终态不能转换（FILLED, CANCELLED）
	}
	for _, t := range legalTransitions {
		sm.transitions[t] = true
	}
	return sm
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(id string, from, to Status) error {
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return &InvalidStateError{OrderID: id, From: from, To: to}
	}
	return nil
}

// IsFinalState 判断是否是终态
func (sm *StateMachine) IsFinalState(status Status) bool {
	return status == StatusFilled || status == StatusCancelled
}

// CanCancel 判断当前状态下是否可以撤单
func (sm *StateMachine) CanCancel(status Status) bool {
	return status == StatusPending || status == StatusOpen
}
