package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestStandingOrderValidate(t *testing.T) {
	tests := []struct {
		name    string
		order   StandingOrder
		wantErr bool
	}{
		{
			name:  "valid",
			order: StandingOrder{InstrumentID: "2330", Price: decimal.NewFromInt(500), Quantity: 1},
		},
		{
			name:    "empty instrument id",
			order:   StandingOrder{Price: decimal.NewFromInt(500), Quantity: 1},
			wantErr: true,
		},
		{
			name:    "zero price",
			order:   StandingOrder{InstrumentID: "2330", Quantity: 1},
			wantErr: true,
		},
		{
			name:    "negative price",
			order:   StandingOrder{InstrumentID: "2330", Price: decimal.NewFromInt(-5), Quantity: 1},
			wantErr: true,
		},
		{
			name:    "zero quantity",
			order:   StandingOrder{InstrumentID: "2330", Price: decimal.NewFromInt(500)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.order.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTradeStatusConstants(t *testing.T) {
	if TradeStatusPreSubmitted != "pre_submitted" {
		t.Errorf("TradeStatusPreSubmitted = %q, want %q", TradeStatusPreSubmitted, "pre_submitted")
	}
	if TradeStatusFilled != "filled" {
		t.Errorf("TradeStatusFilled = %q, want %q", TradeStatusFilled, "filled")
	}
}
