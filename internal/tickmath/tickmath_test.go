package tickmath

import (
	"math"
	"math/big"
	"testing"
)

func TestTickToPrice(t *testing.T) {
	if got := TickToPrice(0); got != 1 {
		t.Fatalf("tick 0 price: %v", got)
	}
	got := TickToPrice(10000)
	want := math.Pow(1.0001, 10000)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("tick 10000 price: %v != %v", got, want)
	}
}

func TestPriceToTickRoundTrip(t *testing.T) {
	for _, tick := range []int32{-200000, -6932, -200, 0, 1, 200, 46054, 150000} {
		price := TickToPrice(tick)
		back := TickToPrice(PriceToTick(price))
		step := TickToPrice(tick+TickSpacing) - price
		if math.Abs(back-price) > math.Abs(step) {
			t.Fatalf("tick %d: %v drifted to %v", tick, price, back)
		}
		if PriceToTick(price) != tick {
			t.Fatalf("tick %d: round trip gave %d", tick, PriceToTick(price))
		}
	}
}

func TestSqrtPriceX96RoundTrip(t *testing.T) {
	for _, tick := range []int32{-100000, -6932, 0, 6932, 100000} {
		sqrt := TickToSqrtPriceX96(tick)
		got := SqrtPriceX96ToPrice(sqrt)
		want := TickToPrice(tick)
		if rel := math.Abs(got-want) / want; rel > 1e-6 {
			t.Fatalf("tick %d: relative error %v", tick, rel)
		}
	}
}

func TestTickToSqrtPriceX96AtZero(t *testing.T) {
	if got := TickToSqrtPriceX96(0); got.Cmp(Q96()) != 0 {
		t.Fatalf("tick 0 sqrt price: %s", got)
	}
}

func TestTickToSqrtPriceX96Exceeds64Bits(t *testing.T) {
	if got := TickToSqrtPriceX96(-6932); got.BitLen() <= 64 {
		t.Fatalf("expected >64 bit value, got %s", got)
	}
}

func TestSqrtPriceX96ToPriceInvalid(t *testing.T) {
	if got := SqrtPriceX96ToPrice(nil); got != 0 {
		t.Fatalf("nil sqrt price: %v", got)
	}
	if got := SqrtPriceX96ToPrice(big.NewInt(-1)); got != 0 {
		t.Fatalf("negative sqrt price: %v", got)
	}
}

func TestSqrtPriceX96ToTick(t *testing.T) {
	if got := SqrtPriceX96ToTick(TickToSqrtPriceX96(-6932)); got != -6932 {
		t.Fatalf("tick mismatch: %d", got)
	}
}

func TestNearestUsableTick(t *testing.T) {
	cases := map[int32]int32{
		0:     0,
		99:    0,
		100:   200,
		101:   200,
		-99:   0,
		-101:  -200,
		-6932: -7000,
		3499:  3400,
	}
	for in, want := range cases {
		if got := NearestUsableTick(in, TickSpacing); got != want {
			t.Fatalf("NearestUsableTick(%d) = %d, want %d", in, got, want)
		}
	}
}
