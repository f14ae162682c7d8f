package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseDecimalToCents(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"12.34", 1234, false},
		{"12,34", 1234, false},
		{"12.345", 1235, false},
		{"12.344", 1234, false},
		{"10", 1000, false},
		{" 7.1 ", 710, false},
		{"", 0, true},
		{"0", 0, true},
		{"0.004", 0, true},
		{"-1", 0, true},
		{"+1", 0, true},
		{"1.2.3", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDecimalToCents(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDecimalToCents(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDecimalToCents(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestMoneyString(t *testing.T) {
	tests := []struct {
		m    Money
		want string
	}{
		{Money{Cents: 0}, "0.00"},
		{Money{Cents: 5}, "0.05"},
		{Money{Cents: 1234}, "12.34"},
		{Money{Cents: -250}, "-2.50"},
	}
	for _, tt := range tests {
		if got := tt.m.String(); got != tt.want {
			t.Errorf("Money{%d}.String() = %q, want %q", tt.m.Cents, got, tt.want)
		}
	}
}

func TestFromDecimalRoundsHalfUp(t *testing.T) {
	if got := FromDecimal(decimal.RequireFromString("0.125")); got.Cents != 13 {
		t.Errorf("FromDecimal(0.125) = %d, want 13", got.Cents)
	}
	if got := FromDecimal(decimal.RequireFromString("19.994")); got.Cents != 1999 {
		t.Errorf("FromDecimal(19.994) = %d, want 1999", got.Cents)
	}
}

func TestMoneyPercent(t *testing.T) {
	target := Money{Cents: 10000}
	tests := []struct {
		balance Money
		want    string
	}{
		{Money{Cents: 7000}, "70"},
		{Money{Cents: 2500}, "25"},
		{Money{Cents: 12000}, "120"},
		{Money{Cents: -500}, "-5"},
	}
	for _, tt := range tests {
		got := tt.balance.Percent(target)
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("Percent(%d) = %s, want %s", tt.balance.Cents, got, tt.want)
		}
	}
	if !(Money{Cents: 100}).Percent(Money{}).IsZero() {
		t.Error("percent of a zero target should be zero")
	}
}
