// Package attest turns prediction attestations for the market contract into
// probability signals.
package attest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"liquidityAgent/internal/model"
	"liquidityAgent/internal/tickmath"
)

// Chain is the read surface the watcher needs. *chain.Client implements it.
type Chain interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config holds watcher settings.
type Config struct {
	Contract       common.Address
	Schema         common.Hash
	MarketContract common.Address
	// FromBlock is the first block scanned when no checkpoint exists. Zero
	// starts at the chain head.
	FromBlock uint64
	BatchSize uint64
}

// seenLimit bounds the remembered attestation UIDs.
const seenLimit = 10_000

// uidSet remembers the most recent UIDs, evicting the oldest beyond limit.
type uidSet struct {
	limit int
	index map[common.Hash]struct{}
	order []common.Hash
}

func newUIDSet(limit int) *uidSet {
	return &uidSet{limit: limit, index: make(map[common.Hash]struct{}, limit)}
}

func (s *uidSet) has(uid common.Hash) bool {
	_, ok := s.index[uid]
	return ok
}

func (s *uidSet) add(uid common.Hash) {
	if s.has(uid) {
		return
	}
	s.index[uid] = struct{}{}
	s.order = append(s.order, uid)
	if len(s.order) > s.limit {
		delete(s.index, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *uidSet) size() int {
	return len(s.index)
}

// Watcher polls Attested logs and decodes prediction attestations.
type Watcher struct {
	cfg        Config
	chain      Chain
	checkpoint Checkpointer
	logger     *zap.Logger
	abi        abi.ABI
	topics     [][]common.Hash
	seen       *uidSet
}

// NewWatcher builds a Watcher.
func NewWatcher(cfg Config, chainClient Chain, checkpoint Checkpointer, logger *zap.Logger) (*Watcher, error) {
	if chainClient == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if cfg.BatchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if cfg.Contract == (common.Address{}) {
		return nil, fmt.Errorf("attestation contract is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	parsed, err := EASABI()
	if err != nil {
		return nil, fmt.Errorf("parse attestation abi: %w", err)
	}
	topics, err := attestedTopics(parsed, cfg.Schema)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:        cfg,
		chain:      chainClient,
		checkpoint: checkpoint,
		logger:     logger,
		abi:        parsed,
		topics:     topics,
		seen:       newUIDSet(seenLimit),
	}, nil
}

// Poll scans blocks since the last checkpoint and returns the signals found.
// The checkpoint advances after every batch.
func (w *Watcher) Poll(ctx context.Context) ([]model.Signal, error) {
	to, err := w.chain.LatestBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("get latest block: %w", err)
	}

	from := w.cfg.FromBlock
	if from == 0 {
		from = to
	}
	if w.checkpoint != nil {
		last, ok, err := w.checkpoint.Load(ctx)
		if err != nil {
			return nil, err
		}
		if ok && (w.cfg.FromBlock == 0 || last >= from) {
			from = last + 1
		}
	}

	if from > to {
		return nil, nil
	}

	ranges, err := SplitRange(from, to, w.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	var signals []model.Signal
	for _, blockRange := range ranges {
		if err := ctx.Err(); err != nil {
			return signals, err
		}

		logs, err := w.chain.FilterLogs(ctx, blockRange.From, blockRange.To, []common.Address{w.cfg.Contract}, w.topics)
		if err != nil {
			return signals, fmt.Errorf("filter logs %d-%d: %w", blockRange.From, blockRange.To, err)
		}

		for _, l := range logs {
			signal, ok, err := w.handle(ctx, l)
			if err != nil {
				var decodeErr *model.DecodeError
				if errors.As(err, &decodeErr) {
					w.logger.Warn("skip undecodable attestation",
						zap.String("tx", l.TxHash.Hex()),
						zap.Uint64("block_number", l.BlockNumber),
						zap.Error(err),
					)
					continue
				}
				return signals, err
			}
			if ok {
				signals = append(signals, signal)
			}
		}

		if w.checkpoint != nil {
			if err := w.checkpoint.Save(ctx, blockRange.To); err != nil {
				return signals, err
			}
		}

		w.logger.Debug("attestation batch complete",
			zap.Int("logs", len(logs)),
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
		)
	}

	return signals, nil
}

// handle processes one Attested log. A uid is remembered once it has been
// handled or found undecodable, so transient read failures are retried on the
// next poll.
func (w *Watcher) handle(ctx context.Context, l types.Log) (model.Signal, bool, error) {
	uid, err := attestedUID(l)
	if err != nil {
		return model.Signal{}, false, err
	}
	if w.seen.has(uid) {
		return model.Signal{}, false, nil
	}

	signal, ok, err := w.process(ctx, uid)
	var decodeErr *model.DecodeError
	if err == nil || errors.As(err, &decodeErr) {
		w.seen.add(uid)
	}
	return signal, ok, err
}

func (w *Watcher) process(ctx context.Context, uid common.Hash) (model.Signal, bool, error) {
	att, err := w.getAttestation(ctx, uid)
	if err != nil {
		return model.Signal{}, false, err
	}
	if att.Revoked() {
		w.logger.Info("skip revoked attestation", zap.String("uid", uid.Hex()))
		return model.Signal{}, false, nil
	}
	if common.Hash(att.Schema) != w.cfg.Schema {
		return model.Signal{}, false, nil
	}

	prediction, err := DecodePrediction(att.Data)
	if err != nil {
		return model.Signal{}, false, err
	}
	if prediction.MarketAddress != w.cfg.MarketContract {
		w.logger.Debug("skip attestation for other market contract",
			zap.String("uid", uid.Hex()),
			zap.String("market_address", prediction.MarketAddress.Hex()),
		)
		return model.Signal{}, false, nil
	}
	if !prediction.MarketID.IsUint64() {
		return model.Signal{}, false, model.NewDecodeError("attestation", "marketId", "%s out of range", prediction.MarketID)
	}

	probability := tickmath.SqrtPriceX96ToPrice(prediction.SqrtPriceX96)
	if probability <= 0 || probability > 1 {
		return model.Signal{}, false, model.NewDecodeError("attestation", "prediction", "probability %v outside (0, 1]", probability)
	}

	w.logger.Info("attestation signal",
		zap.String("uid", uid.Hex()),
		zap.Uint64("market_id", prediction.MarketID.Uint64()),
		zap.Float64("probability", probability),
		zap.String("attester", att.Attester.Hex()),
	)
	return model.Signal{
		MarketID:    prediction.MarketID.Uint64(),
		Probability: probability,
		Reasoning:   prediction.Comment,
		Source:      model.SignalSourceAttestation,
		Ref:         uid.Hex(),
		ReceivedAt:  timeOf(att.Time),
	}, true, nil
}

func (w *Watcher) getAttestation(ctx context.Context, uid common.Hash) (Attestation, error) {
	data, err := w.abi.Pack("getAttestation", uid)
	if err != nil {
		return Attestation{}, fmt.Errorf("pack getAttestation: %w", err)
	}
	to := w.cfg.Contract
	out, err := w.chain.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return Attestation{}, fmt.Errorf("getAttestation %s: %w", uid.Hex(), err)
	}
	return decodeAttestation(w.abi, out)
}

func timeOf(unix uint64) time.Time {
	return time.Unix(int64(unix), 0).UTC()
}

// BlockRange represents an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// SplitRange splits [from, to] into consecutive ranges of at most batchSize blocks.
func SplitRange(from, to, batchSize uint64) ([]BlockRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	var ranges []BlockRange
	for start := from; ; start += batchSize {
		end := to
		if to-start >= batchSize {
			end = start + batchSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			return ranges, nil
		}
	}
}
