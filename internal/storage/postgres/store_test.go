package postgres

import (
	"math/big"
	"testing"
)

func TestNumericRoundTrip(t *testing.T) {
	v, _ := new(big.Int).SetString("79228162514264337593543950336", 10)
	got := parseNumeric(numeric(v))
	if got == nil || got.Cmp(v) != 0 {
		t.Fatalf("expected %s, got %v", v, got)
	}
	if numeric(nil) != nil {
		t.Fatalf("expected nil for nil input")
	}
	bad := "not-a-number"
	if parseNumeric(&bad) != nil {
		t.Fatalf("expected nil for malformed numeric")
	}
}

func TestNullable(t *testing.T) {
	if nullable("") != nil {
		t.Fatalf("expected nil for empty string")
	}
	if s := nullable("0xabc"); s == nil || *s != "0xabc" {
		t.Fatalf("unexpected value: %v", s)
	}
}
