package order

import "sort"

// OpenOrderLister 执行端当前仍挂着的订单（执行端订单号）。
type OpenOrderLister interface {
	OpenOrders() []string
}

// Discrepancy 本地账本与执行端的差异
type Discrepancy struct {
	Missing  []Order  // 本地认为已挂出，执行端找不到
	Orphaned []string // 执行端仍挂着，本地没有对应的存活订单
}

// Clean 两边一致
func (d Discrepancy) Clean() bool {
	return len(d.Missing) == 0 && len(d.Orphaned) == 0
}

// Reconcile 以执行端订单号为键比对本地存活订单。尚未拿到执行端订单号的 PENDING 订单不参与比对。
// 运行中成交事件可能还在队列里，此时的差异是暂态；撤单退出之后的差异才说明执行端有残留。
func Reconcile(local []Order, venue []string) Discrepancy {
	onVenue := make(map[string]struct{}, len(venue))
	for _, id := range venue {
		onVenue[id] = struct{}{}
	}

	var d Discrepancy
	known := make(map[string]struct{}, len(local))
	for _, o := range local {
		if o.ExchangeID == "" {
			continue
		}
		known[o.ExchangeID] = struct{}{}
		if _, ok := onVenue[o.ExchangeID]; !ok {
			d.Missing = append(d.Missing, o)
		}
	}
	for _, id := range venue {
		if _, ok := known[id]; !ok {
			d.Orphaned = append(d.Orphaned, id)
		}
	}
	sort.Strings(d.Orphaned)
	return d
}
