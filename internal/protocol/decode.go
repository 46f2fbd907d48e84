package protocol

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"liquidityAgent/internal/model"
)

// decodeMarket validates the flat getMarket outputs into a typed Market.
func decodeMarket(id uint64, values []interface{}) (model.Market, error) {
	const source = "getMarket"
	if len(values) != 12 {
		return model.Market{}, model.NewDecodeError(source, "", "expected 12 outputs, got %d", len(values))
	}

	var (
		m   = model.Market{ID: id}
		err error
	)
	fields := []struct {
		name string
		fn   func(interface{}) error
	}{
		{"startTime", func(v interface{}) error { m.StartTime, err = asInt64(v); return err }},
		{"endTime", func(v interface{}) error { m.EndTime, err = asInt64(v); return err }},
		{"pool", func(v interface{}) error { m.Pool, err = asAddress(v); return err }},
		{"baseToken", func(v interface{}) error { m.BaseToken, err = asAddress(v); return err }},
		{"quoteToken", func(v interface{}) error { m.QuoteToken, err = asAddress(v); return err }},
		{"minPriceD18", func(v interface{}) error { m.MinPriceD18, err = asBigInt(v); return err }},
		{"maxPriceD18", func(v interface{}) error { m.MaxPriceD18, err = asBigInt(v); return err }},
		{"minTick", func(v interface{}) error { m.MinTick, err = asInt24(v); return err }},
		{"maxTick", func(v interface{}) error { m.MaxTick, err = asInt24(v); return err }},
		{"settled", func(v interface{}) error { m.Settled, err = asBool(v); return err }},
		{"settlementPriceD18", func(v interface{}) error { m.SettlementPriceD18, err = asBigInt(v); return err }},
		{"collateralAsset", func(v interface{}) error { m.CollateralAsset, err = asAddress(v); return err }},
	}
	for i, f := range fields {
		if ferr := f.fn(values[i]); ferr != nil {
			return model.Market{}, model.NewDecodeError(source, f.name, "%v", ferr)
		}
	}

	if m.MinTick >= m.MaxTick {
		return model.Market{}, model.NewDecodeError(source, "minTick", "tick bounds inverted: [%d, %d]", m.MinTick, m.MaxTick)
	}
	if m.EndTime < m.StartTime {
		return model.Market{}, model.NewDecodeError(source, "endTime", "end %d before start %d", m.EndTime, m.StartTime)
	}
	return m, nil
}

// decodePosition validates the flat getPosition outputs.
func decodePosition(values []interface{}) (model.OnchainPosition, error) {
	const source = "getPosition"
	if len(values) != 7 {
		return model.OnchainPosition{}, model.NewDecodeError(source, "", "expected 7 outputs, got %d", len(values))
	}

	var (
		p    model.OnchainPosition
		kind uint8
		mid  *big.Int
		err  error
	)
	fields := []struct {
		name string
		fn   func(interface{}) error
	}{
		{"id", func(v interface{}) error { p.TokenID, err = asBigInt(v); return err }},
		{"kind", func(v interface{}) error { kind, err = asUint8(v); return err }},
		{"marketId", func(v interface{}) error { mid, err = asBigInt(v); return err }},
		{"liquidity", func(v interface{}) error { p.Liquidity, err = asBigInt(v); return err }},
		{"lowerTick", func(v interface{}) error { p.Range.Lower, err = asInt24(v); return err }},
		{"upperTick", func(v interface{}) error { p.Range.Upper, err = asInt24(v); return err }},
		{"isSettled", func(v interface{}) error { p.Settled, err = asBool(v); return err }},
	}
	for i, f := range fields {
		if ferr := f.fn(values[i]); ferr != nil {
			return model.OnchainPosition{}, model.NewDecodeError(source, f.name, "%v", ferr)
		}
	}

	switch model.PositionKind(kind) {
	case model.PositionKindLiquidity, model.PositionKindTrade:
		p.Kind = model.PositionKind(kind)
	default:
		return model.OnchainPosition{}, model.NewDecodeError(source, "kind", "unknown position kind %d", kind)
	}
	if !mid.IsUint64() {
		return model.OnchainPosition{}, model.NewDecodeError(source, "marketId", "out of range: %s", mid)
	}
	p.MarketID = mid.Uint64()
	return p, nil
}

func decodeSlot0(values []interface{}) (model.PoolSlot0, error) {
	const source = "slot0"
	if len(values) < 2 {
		return model.PoolSlot0{}, model.NewDecodeError(source, "", "expected at least 2 outputs, got %d", len(values))
	}
	sqrt, err := asBigInt(values[0])
	if err != nil {
		return model.PoolSlot0{}, model.NewDecodeError(source, "sqrtPriceX96", "%v", err)
	}
	tick, err := asInt24(values[1])
	if err != nil {
		return model.PoolSlot0{}, model.NewDecodeError(source, "tick", "%v", err)
	}
	return model.PoolSlot0{SqrtPriceX96: sqrt, Tick: tick}, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBool(value interface{}) (bool, error) {
	v, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("unsupported bool type %T", value)
	}
	return v, nil
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("nil big int")
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asInt64(value interface{}) (int64, error) {
	v, err := asBigInt(value)
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("int64 overflow: %s", v)
	}
	return v.Int64(), nil
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if v == nil || !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("uint8 overflow: %v", v)
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}

func asInt24(value interface{}) (int32, error) {
	v, err := asBigInt(value)
	if err != nil {
		return 0, err
	}
	return int24FromBig(v)
}

func int24FromBig(value *big.Int) (int32, error) {
	min := big.NewInt(-1 << 23)
	max := big.NewInt((1 << 23) - 1)
	if value.Cmp(min) < 0 || value.Cmp(max) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(value.Int64()), nil
}
