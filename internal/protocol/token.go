package protocol

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"liquidityAgent/internal/chain"
	"liquidityAgent/internal/model"
)

// FetchTokenMeta loads token metadata via ERC20 calls. Decimals are required;
// symbol and name fall back to bytes32 encodings and are otherwise left empty.
func FetchTokenMeta(ctx context.Context, backend Backend, token common.Address, logger *zap.Logger) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token}
	if backend == nil {
		return meta, fmt.Errorf("backend is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	stringABI, err := ERC20ABI()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20ABIBytes32Instance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}
	reader := tokenReader{ctx: ctx, backend: backend, token: token}

	values, err := reader.call("decimals", stringABI)
	if err != nil {
		return meta, err
	}
	if meta.Decimals, err = asUint8(values[0]); err != nil {
		return meta, model.NewDecodeError("erc20.decimals", "", "%v", err)
	}

	for method, dst := range map[string]*string{"symbol": &meta.Symbol, "name": &meta.Name} {
		text, err := reader.text(method, stringABI, bytes32ABI)
		if err != nil {
			logger.Debug("optional erc20 field unavailable",
				zap.String("token", token.Hex()),
				zap.String("method", method),
				zap.Error(err),
			)
			continue
		}
		*dst = text
	}
	return meta, nil
}

type tokenReader struct {
	ctx     context.Context
	backend Backend
	token   common.Address
}

func (r tokenReader) call(method string, parsed abi.ABI) ([]interface{}, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := r.backend.CallContract(r.ctx, ethereum.CallMsg{To: &r.token, Data: data}, nil)
	if err != nil {
		return nil, &chain.ReadError{Op: "erc20." + method, Err: err}
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, model.NewDecodeError("erc20."+method, "", "unpack: %v", err)
	}
	if len(values) == 0 {
		return nil, model.NewDecodeError("erc20."+method, "", "no outputs")
	}
	return values, nil
}

// text reads a string getter, retrying with the bytes32 variant some older
// tokens expose.
func (r tokenReader) text(method string, stringABI, bytes32ABI abi.ABI) (string, error) {
	values, err := r.call(method, stringABI)
	if err == nil {
		if s, ok := values[0].(string); ok {
			return s, nil
		}
	}
	values, err = r.call(method, bytes32ABI)
	if err != nil {
		return "", err
	}
	s, ok := bytes32ToString(values[0])
	if !ok {
		return "", model.NewDecodeError("erc20."+method, "", "unexpected %T", values[0])
	}
	return s, nil
}

// CollateralSession caches the metadata of the collateral asset in use. The
// cache is dropped when the collateral address changes.
type CollateralSession struct {
	backend Backend
	logger  *zap.Logger

	mu     sync.Mutex
	meta   model.TokenMeta
	loaded bool
}

// NewCollateralSession builds an empty session.
func NewCollateralSession(backend Backend, logger *zap.Logger) *CollateralSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollateralSession{backend: backend, logger: logger}
}

// Meta returns the metadata of token, fetching it when token differs from the
// cached asset.
func (s *CollateralSession) Meta(ctx context.Context, token common.Address) (model.TokenMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded && s.meta.Address == token {
		return s.meta, nil
	}
	if s.loaded {
		s.logger.Info("collateral asset changed, dropping cached metadata",
			zap.String("previous", s.meta.Address.Hex()),
			zap.String("current", token.Hex()),
		)
		s.loaded = false
	}

	meta, err := FetchTokenMeta(ctx, s.backend, token, s.logger)
	if err != nil {
		return model.TokenMeta{}, err
	}
	s.meta = meta
	s.loaded = true
	return meta, nil
}

// BaseUnits converts a human collateral amount into token base units.
func (s *CollateralSession) BaseUnits(ctx context.Context, token common.Address, amount decimal.Decimal) (*big.Int, error) {
	meta, err := s.Meta(ctx, token)
	if err != nil {
		return nil, err
	}
	return ToBaseUnits(amount, meta.Decimals), nil
}

// ToBaseUnits scales amount by 10^decimals, truncating any remainder.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// FromBaseUnits scales a base-unit amount down by 10^decimals.
func FromBaseUnits(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}
