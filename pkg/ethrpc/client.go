// Package ethrpc fetches transactions and receipts from Ethereum JSON-RPC
// nodes, one endpoint per chain.
package ethrpc

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/resilience"
)

// Client fetches chain data for the analysis pipeline.
type Client struct {
	endpoints map[int64]string
	retry     resilience.RetryPolicy
	breakers  *resilience.Breakers

	mu    sync.Mutex
	conns map[int64]*conn
}

type conn struct {
	rpc *rpc.Client
	eth *ethclient.Client
}

// Option configures the client.
type Option func(*Client)

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryPolicy) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithBreakers routes each chain's calls through its own circuit breaker.
func WithBreakers(sb *resilience.Breakers) Option {
	return func(c *Client) {
		c.breakers = sb
	}
}

// New creates a client for the given chain ID → endpoint URL map.
// Connections are dialed lazily on first use.
func New(endpoints map[int64]string, opts ...Option) *Client {
	c := &Client{
		endpoints: endpoints,
		retry:     resilience.DefaultRetryPolicy(),
		conns:     make(map[int64]*conn),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) dial(ctx context.Context, chainID int64) (*conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cn, ok := c.conns[chainID]; ok {
		return cn, nil
	}
	url, ok := c.endpoints[chainID]
	if !ok || url == "" {
		return nil, resilience.Failf(resilience.ReasonNotConfigured, "ethrpc: no endpoint for chain %d", chainID)
	}
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, eris.Wrapf(err, "ethrpc: dial chain %d", chainID)
	}
	cn := &conn{rpc: rc, eth: ethclient.NewClient(rc)}
	c.conns[chainID] = cn
	return cn, nil
}

func call[T any](ctx context.Context, c *Client, chainID int64, op string, fn func(ctx context.Context, cn *conn) (T, error)) (T, error) {
	cfg := c.retry
	cfg.OnRetry = resilience.LogRetries("ethrpc", op)

	run := func(ctx context.Context) (T, error) {
		return resilience.Retry(ctx, cfg, func(ctx context.Context) (T, error) {
			cn, err := c.dial(ctx, chainID)
			if err != nil {
				var zero T
				return zero, err
			}
			return fn(ctx, cn)
		})
	}
	if c.breakers != nil {
		return resilience.Guard(ctx, c.breakers.For(chainKey(chainID)), run)
	}
	return run(ctx)
}

type rpcTransaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Value       *hexutil.Big    `json:"value"`
	Input       hexutil.Bytes   `json:"input"`
	Nonce       hexutil.Uint64  `json:"nonce"`
	Gas         hexutil.Uint64  `json:"gas"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
}

// FetchTransaction returns the transaction with the given hash. Unknown
// hashes fail with reason not_found.
func (c *Client) FetchTransaction(ctx context.Context, chainID int64, hash string) (*model.RawTx, error) {
	return call(ctx, c, chainID, "eth_getTransactionByHash", func(ctx context.Context, cn *conn) (*model.RawTx, error) {
		var tx *rpcTransaction
		if err := cn.rpc.CallContext(ctx, &tx, "eth_getTransactionByHash", common.HexToHash(hash)); err != nil {
			return nil, eris.Wrap(err, "ethrpc: eth_getTransactionByHash")
		}
		if tx == nil {
			return nil, resilience.Failf(resilience.ReasonNotFound, "ethrpc: transaction %s not found on chain %d", hash, chainID)
		}

		out := &model.RawTx{
			Hash:    tx.Hash.Hex(),
			ChainID: chainID,
			From:    tx.From.Hex(),
			Value:   "0",
			Input:   hexutil.Encode(tx.Input),
			Nonce:   uint64(tx.Nonce),
			Gas:     uint64(tx.Gas),
			Pending: tx.BlockNumber == nil,
		}
		if tx.To != nil {
			out.To = tx.To.Hex()
		}
		if tx.Value != nil {
			out.Value = tx.Value.ToInt().String()
		}
		if tx.BlockNumber != nil {
			out.BlockNumber = tx.BlockNumber.ToInt().Uint64()
		}
		return out, nil
	})
}

// FetchReceipt returns the receipt of a mined transaction. Pending or unknown
// transactions fail with reason not_found.
func (c *Client) FetchReceipt(ctx context.Context, chainID int64, hash string) (*model.RawReceipt, error) {
	return call(ctx, c, chainID, "eth_getTransactionReceipt", func(ctx context.Context, cn *conn) (*model.RawReceipt, error) {
		r, err := cn.eth.TransactionReceipt(ctx, common.HexToHash(hash))
		if errors.Is(err, ethereum.NotFound) {
			return nil, resilience.Fail(resilience.ReasonNotFound, eris.Wrapf(err, "ethrpc: receipt %s", hash))
		}
		if err != nil {
			return nil, eris.Wrap(err, "ethrpc: eth_getTransactionReceipt")
		}

		out := &model.RawReceipt{
			Status:   r.Status,
			GasUsed:  r.GasUsed,
			LogCount: len(r.Logs),
		}
		if r.BlockNumber != nil {
			out.BlockNumber = r.BlockNumber.Uint64()
		}
		if r.ContractAddress != (common.Address{}) {
			out.ContractAddress = r.ContractAddress.Hex()
		}
		return out, nil
	})
}

// Close closes every open connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cn := range c.conns {
		cn.eth.Close()
		delete(c.conns, id)
		zap.L().Debug("ethrpc: closed connection", zap.Int64("chain_id", id))
	}
}

func chainKey(chainID int64) string {
	return "ethrpc:" + hexutil.EncodeUint64(uint64(chainID))
}
