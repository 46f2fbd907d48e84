package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultGasLimit    = uint64(1_500_000)
	receiptPollEvery   = 2 * time.Second
	gasBufferNumerator = 12
	gasBufferDivisor   = 10
)

// ClientConfig holds transport settings.
type ClientConfig struct {
	RPCURL       string
	PrivateKey   string
	RateLimit    float64
	MaxRetries   int
	RetryBackoff time.Duration
}

// Client wraps go-ethereum RPC with throttled, retried reads and a local signer.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	limiter   *rate.Limiter
	logger    *zap.Logger

	maxRetries   int
	retryBackoff time.Duration

	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
}

// NewClient dials the RPC endpoint and loads the signing key, if any.
func NewClient(ctx context.Context, cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := int(cfg.RateLimit)
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		rpcClient:    rpcClient,
		ethClient:    ethclient.NewClient(rpcClient),
		limiter:      rate.NewLimiter(limit, burst),
		logger:       logger,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
	}

	chainID, err := c.ethClient.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	c.chainID = chainID

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain ID resolved at dial time.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// From returns the signer address. It is the zero address for read-only clients.
func (c *Client) From() common.Address {
	return c.from
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := c.read(ctx, "block number", func(ctx context.Context) error {
		var err error
		number, err = c.ethClient.BlockNumber(ctx)
		return err
	})
	return number, err
}

// FilterLogs returns logs in the given range for addresses and topic filters.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topics [][]common.Hash,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
		Topics:    topics,
	}
	var logs []types.Log
	err := c.read(ctx, "filter logs", func(ctx context.Context) error {
		var err error
		logs, err = c.ethClient.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// CallContract performs an eth_call. The call is throttled and retried.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.read(ctx, "eth_call", func(ctx context.Context) error {
		var err error
		out, err = c.ethClient.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

func (c *Client) read(ctx context.Context, op string, fn func(context.Context) error) error {
	return WithRetry(ctx, c.maxRetries, c.retryBackoff, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		if err != nil {
			c.logger.Debug("rpc read failed", zap.String("op", op), zap.Error(err))
		}
		return err
	})
}

// Transact signs and submits a call to contract `to`. It is not retried: a
// resubmission after an ambiguous failure could double-spend the nonce.
func (c *Client) Transact(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	if c.key == nil {
		return nil, fmt.Errorf("no signing key configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	nonce, err := c.ethClient.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := c.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}

	gas, err := c.ethClient.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.from,
		To:       &to,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		if reason := revertReason(err); reason != "" {
			return nil, &WriteError{Op: "estimate gas", Reason: reason, Err: err}
		}
		c.logger.Warn("gas estimate failed, using default", zap.Error(err), zap.Uint64("limit", defaultGasLimit))
		gas = defaultGasLimit
	}
	gas = gas * gasBufferNumerator / gasBufferDivisor

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.ethClient.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}

	c.logger.Info("transaction sent",
		zap.String("tx", signed.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gas),
	)
	return signed, nil
}

// WaitMined polls for the receipt of tx. A reverted receipt is returned with a
// WriteError carrying the replayed revert reason.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollEvery)
	defer ticker.Stop()

	for {
		receipt, err := c.ethClient.TransactionReceipt(ctx, tx.Hash())
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, &WriteError{
					Op:     "receipt",
					TxHash: tx.Hash().Hex(),
					Reason: c.replayRevert(ctx, tx, receipt.BlockNumber),
				}
			}
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.Debug("receipt fetch failed", zap.String("tx", tx.Hash().Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) replayRevert(ctx context.Context, tx *types.Transaction, block *big.Int) string {
	_, err := c.ethClient.CallContract(ctx, ethereum.CallMsg{
		From:     c.from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Data:     tx.Data(),
	}, block)
	if err == nil {
		return "reverted"
	}
	if reason := revertReason(err); reason != "" {
		return reason
	}
	return err.Error()
}

func revertReason(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, "execution reverted"); i >= 0 {
		return strings.TrimSpace(msg[i:])
	}
	return ""
}
