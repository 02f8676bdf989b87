package order

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSymbolConstraintsValidate(t *testing.T) {
	d := decimal.RequireFromString
	c := SymbolConstraints{
		TickSize:    d("0.01"),
		StepSize:    d("0.001"),
		MinQty:      d("0.001"),
		MaxQty:      d("10"),
		MinNotional: d("5"),
	}
	if err := c.Validate(d("100.01"), d("0.1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Validate(d("100.015"), d("0.002")); err == nil {
		t.Fatalf("expected tick size error")
	}
	if err := c.Validate(d("100.01"), d("0.0005")); err == nil {
		t.Fatalf("expected qty error")
	}
	if err := c.Validate(d("100.01"), d("11")); err == nil {
		t.Fatalf("expected max qty error")
	}
	if err := c.Validate(d("10"), d("0.2")); err == nil {
		t.Fatalf("expected notional error")
	}
	if err := (SymbolConstraints{}).Validate(d("1.23456"), d("0.000001")); err != nil {
		t.Fatalf("zero constraints should accept anything: %v", err)
	}
}
