// Package ethnet carries deployer actions to an Ethereum JSON-RPC endpoint.
package ethnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	deployer "github.com/branched-services/go-deployer"
)

// Backend is the subset of *ethclient.Client the network uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Client implements deployer.Network. Nonces are tracked locally per sender
// after the first pending-nonce query, so transactions from one account can
// be submitted back to back.
type Client struct {
	backend Backend
	signer  deployer.Signer
	chainID *big.Int
	cfg     *config

	mu     sync.Mutex
	locks  map[common.Address]*sync.Mutex
	nonces map[common.Address]uint64
}

var _ deployer.Network = (*Client)(nil)

type config struct {
	logger    *slog.Logger
	gasBuffer uint64
	gasLimit  uint64
}

// Option configures a Client.
type Option func(*config)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithGasBuffer adds percent to every gas estimate. Default 20.
func WithGasBuffer(percent uint64) Option {
	return func(c *config) {
		c.gasBuffer = percent
	}
}

// WithGasLimit uses a fixed gas limit instead of estimating.
func WithGasLimit(limit uint64) Option {
	return func(c *config) {
		c.gasLimit = limit
	}
}

// New creates a Client on backend, signing with signer.
func New(ctx context.Context, backend Backend, signer deployer.Signer, opts ...Option) (*Client, error) {
	cfg := &config{logger: slog.Default(), gasBuffer: 20}
	for _, opt := range opts {
		opt(cfg)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("ethnet: chain id: %w", err)
	}
	return &Client{
		backend: backend,
		signer:  signer,
		chainID: chainID,
		cfg:     cfg,
		locks:   make(map[common.Address]*sync.Mutex),
		nonces:  make(map[common.Address]uint64),
	}, nil
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string, signer deployer.Signer, opts ...Option) (*Client, *ethclient.Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("ethnet: dial %s: %w", rpcURL, err)
	}
	c, err := New(ctx, ec, signer, opts...)
	if err != nil {
		ec.Close()
		return nil, nil, err
	}
	return c, ec, nil
}

// ChainID returns the chain ID reported by the backend at construction.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// SendTransaction implements deployer.Network. It estimates gas, prices
// the transaction (EIP-1559 when the chain reports a base fee), signs it
// and broadcasts it.
func (c *Client) SendTransaction(ctx context.Context, req deployer.TxRequest) (common.Hash, error) {
	unlock := c.lock(req.From)
	defer unlock()

	nonce, err := c.nonce(ctx, req.From)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: nonce for %s: %v", deployer.ErrSubmission, req.From.Hex(), err)
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	gas := c.cfg.gasLimit
	if gas == 0 {
		est, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: req.From, To: req.To, Value: value, Data: req.Data})
		if err != nil {
			if rerr := revertError(err); rerr != nil {
				return common.Hash{}, rerr
			}
			return common.Hash{}, fmt.Errorf("%w: estimate gas: %v", deployer.ErrSubmission, err)
		}
		gas = est + est*c.cfg.gasBuffer/100
	}

	tx, err := c.buildTx(ctx, nonce, gas, req.To, value, req.Data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", deployer.ErrSubmission, err)
	}

	signed, err := c.signer.SignTx(ctx, req.From, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: sign: %v", deployer.ErrSubmission, err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		// The node may have seen a different nonce; ask again next time.
		c.forgetNonce(req.From)
		return common.Hash{}, fmt.Errorf("%w: broadcast: %v", deployer.ErrSubmission, err)
	}

	c.setNonce(req.From, nonce+1)
	c.cfg.logger.Debug("Broadcast transaction", "tx", signed.Hash(), "from", req.From, "nonce", nonce, "gas", gas)
	return signed.Hash(), nil
}

func (c *Client) buildTx(ctx context.Context, nonce, gas uint64, to *common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}

	if head.BaseFee == nil {
		price, err := c.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       to,
			Value:    value,
			Gas:      gas,
			GasPrice: price,
			Data:     data,
		}), nil
	}

	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas tip: %w", err)
	}
	// Same fee cap as bind: twice the base fee plus the tip.
	feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		To:        to,
		Value:     value,
		Gas:       gas,
		GasFeeCap: feeCap,
		GasTipCap: tip,
		Data:      data,
	}), nil
}

// TransactionReceipt implements deployer.Network. For failed transactions
// the revert reason is recovered by replaying the call at the inclusion
// block, when the node supports it.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*deployer.Receipt, error) {
	r, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ethnet: receipt %s: %w", hash.Hex(), err)
	}

	receipt := &deployer.Receipt{
		TxHash:          r.TxHash,
		Status:          r.Status,
		ContractAddress: r.ContractAddress,
		BlockNumber:     r.BlockNumber,
		GasUsed:         r.GasUsed,
	}
	if !receipt.Succeeded() {
		receipt.RevertReason = c.replayRevert(ctx, hash, r.BlockNumber)
	}
	return receipt, nil
}

func (c *Client) replayRevert(ctx context.Context, hash common.Hash, block *big.Int) string {
	tx, _, err := c.backend.TransactionByHash(ctx, hash)
	if err != nil {
		return ""
	}
	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return ""
	}
	_, err = c.backend.CallContract(ctx, ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}, block)

	var rerr *deployer.RevertError
	if errors.As(revertError(err), &rerr) {
		return rerr.Reason
	}
	return ""
}

// Call implements deployer.Network.
func (c *Client) Call(ctx context.Context, req deployer.CallRequest) ([]byte, error) {
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		From:  req.From,
		To:    req.To,
		Value: req.Value,
		Data:  req.Data,
	}, nil)
	if err != nil {
		if rerr := revertError(err); rerr != nil {
			return nil, rerr
		}
		return nil, fmt.Errorf("ethnet: call: %w", err)
	}
	return out, nil
}

// revertError returns a *deployer.RevertError when err is an EVM revert,
// decoding Error(string) payloads. Other errors yield nil.
func revertError(err error) error {
	if err == nil {
		return nil
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, ok := dataErr.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return &deployer.RevertError{Reason: reason}
				}
				return &deployer.RevertError{Reason: s}
			}
		}
	}

	if strings.Contains(err.Error(), "execution reverted") {
		reason := strings.TrimPrefix(err.Error(), "execution reverted")
		reason = strings.TrimPrefix(reason, ":")
		return &deployer.RevertError{Reason: strings.TrimSpace(reason)}
	}
	return nil
}

func (c *Client) lock(addr common.Address) (unlock func()) {
	c.mu.Lock()
	m, ok := c.locks[addr]
	if !ok {
		m = &sync.Mutex{}
		c.locks[addr] = m
	}
	c.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// nonce must be called with the sender lock held.
func (c *Client) nonce(ctx context.Context, addr common.Address) (uint64, error) {
	c.mu.Lock()
	n, ok := c.nonces[addr]
	c.mu.Unlock()
	if ok {
		return n, nil
	}
	return c.backend.PendingNonceAt(ctx, addr)
}

func (c *Client) setNonce(addr common.Address, n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[addr] = n
}

func (c *Client) forgetNonce(addr common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nonces, addr)
}
