package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Endpoint fallback tuning.
const (
	// DefaultEndpointTimeout bounds one RPC call against one endpoint, so the
	// worst-case latency of a settlement call is endpoints × timeout.
	DefaultEndpointTimeout = 12 * time.Second
	// breakerFailureLimit / breakerWindow: an endpoint that failed this many
	// times inside the window is skipped until the window expires.
	breakerFailureLimit = 3
	breakerWindow       = 60 * time.Second

	transferGasLimit = 90_000
	mintGasLimit     = 300_000
)

// Settlement failures.
var (
	// ErrSettlementUnavailable: every configured endpoint was exhausted or
	// breaker-skipped. Retryable by the caller with backoff.
	ErrSettlementUnavailable = errors.New("chain: all rpc endpoints exhausted")
	// ErrTransferFailed / ErrMintFailed: the submission itself is invalid.
	// Surfaced before any ledger mutation, safely retryable.
	ErrTransferFailed = errors.New("chain: transfer failed")
	ErrMintFailed     = errors.New("chain: mint failed")
)

const erc20ABIJSON = `[
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const badgeABIJSON = `[
	{"type":"function","name":"mintTo","inputs":[{"name":"to","type":"address"},{"name":"tokenURI","type":"string"}],"outputs":[{"name":"tokenId","type":"uint256"}]}
]`

// rpcBackend is the subset of the Ethereum RPC surface the client uses.
// *ethclient.Client satisfies it.
type rpcBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type endpoint struct {
	url     string
	backend rpcBackend

	mu          sync.Mutex
	failures    int
	windowStart time.Time
}

func (e *endpoint) available(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failures < breakerFailureLimit {
		return true
	}
	if now.Sub(e.windowStart) >= breakerWindow {
		e.failures = 0
		return true
	}
	return false
}

func (e *endpoint) recordFailure(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failures == 0 || now.Sub(e.windowStart) >= breakerWindow {
		e.windowStart = now
		e.failures = 0
	}
	e.failures++
}

func (e *endpoint) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = 0
}

// Config wires the settlement client from environment-sourced values.
type Config struct {
	Endpoints       []string // statically ordered, tried sequentially
	ChainID         *big.Int
	TreasuryKeyHex  string // hot key signing reward transfers and badge mints
	TokenAddress    common.Address
	BadgeAddress    common.Address
	EndpointTimeout time.Duration
	CacheTTL        time.Duration
}

// SettlementClient submits reward transfers and badge mints through an
// ordered pool of RPC endpoints. A successful call returns as soon as the
// network accepts the transaction; confirmation is reconciled out-of-band by
// the receipt worker.
type SettlementClient struct {
	endpoints []*endpoint
	timeout   time.Duration
	chainID   *big.Int
	key       *ecdsa.PrivateKey
	from      common.Address
	token     common.Address
	badge     common.Address
	cache     *BalanceCache
	now       func() time.Time
	erc20ABI  abi.ABI
	badgeABI  abi.ABI
}

// NewSettlementClient dials every configured endpoint and prepares the client.
func NewSettlementClient(cfg Config) (*SettlementClient, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("chain: at least one rpc endpoint required")
	}
	endpoints := make([]*endpoint, 0, len(cfg.Endpoints))
	for _, raw := range cfg.Endpoints {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		client, err := ethclient.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("chain: dial %s: %w", url, err)
		}
		endpoints = append(endpoints, &endpoint{url: url, backend: client})
	}
	return newSettlementClient(cfg, endpoints)
}

// newSettlementClient finishes construction from prepared endpoints (tests
// inject fake backends here).
func newSettlementClient(cfg Config, endpoints []*endpoint) (*SettlementClient, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("chain: at least one rpc endpoint required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain: chain id required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.TreasuryKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: treasury key: %w", err)
	}
	erc20, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: erc20 abi: %w", err)
	}
	badge, err := abi.JSON(strings.NewReader(badgeABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: badge abi: %w", err)
	}
	timeout := cfg.EndpointTimeout
	if timeout <= 0 {
		timeout = DefaultEndpointTimeout
	}
	return &SettlementClient{
		endpoints: endpoints,
		timeout:   timeout,
		chainID:   new(big.Int).Set(cfg.ChainID),
		key:       key,
		from:      crypto.PubkeyToAddress(key.PublicKey),
		token:     cfg.TokenAddress,
		badge:     cfg.BadgeAddress,
		cache:     NewBalanceCache(cfg.CacheTTL, nil),
		now:       time.Now,
		erc20ABI:  erc20,
		badgeABI:  badge,
	}, nil
}

// TreasuryAddress returns the signing address rewards are paid from.
func (c *SettlementClient) TreasuryAddress() common.Address { return c.from }

// TokenAddress returns the reward token contract.
func (c *SettlementClient) TokenAddress() common.Address { return c.token }

// Cache exposes the balance cache for the periodic sweep job.
func (c *SettlementClient) Cache() *BalanceCache { return c.cache }

// forEach runs op against each endpoint in order, honoring the breaker and a
// per-endpoint timeout. A definitive ethereum.NotFound answer is returned
// as-is rather than counted as an endpoint fault.
func (c *SettlementClient) forEach(ctx context.Context, op func(context.Context, rpcBackend) error) error {
	var lastErr error
	for _, ep := range c.endpoints {
		if !ep.available(c.now()) {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := op(callCtx, ep.backend)
		cancel()
		if err == nil {
			ep.recordSuccess()
			return nil
		}
		if errors.Is(err, ethereum.NotFound) {
			ep.recordSuccess()
			return err
		}
		ep.recordFailure(c.now())
		lastErr = err
		log.Printf("⚠️ RPC endpoint %s failed: %v", ep.url, err)
	}
	if lastErr == nil {
		return ErrSettlementUnavailable
	}
	return fmt.Errorf("%w: last error: %v", ErrSettlementUnavailable, lastErr)
}

// submit signs and sends a contract call, returning the transaction hash the
// moment an endpoint accepts it.
func (c *SettlementClient) submit(ctx context.Context, contract common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	var txHash common.Hash
	err := c.forEach(ctx, func(ctx context.Context, b rpcBackend) error {
		nonce, err := b.PendingNonceAt(ctx, c.from)
		if err != nil {
			return err
		}
		gasPrice, err := b.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		tx := types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &contract,
			Value:    big.NewInt(0),
			Gas:      gasLimit,
			GasPrice: gasPrice,
			Data:     data,
		})
		signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
		if err != nil {
			return err
		}
		if err := b.SendTransaction(ctx, signed); err != nil {
			return err
		}
		txHash = signed.Hash()
		return nil
	})
	if err != nil {
		return common.Hash{}, err
	}
	return txHash, nil
}

// Transfer submits an ERC-20 transfer of amount reward tokens to the given
// address and invalidates the affected balance cache keys before returning.
func (c *SettlementClient) Transfer(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("%w: amount must be positive", ErrTransferFailed)
	}
	if (to == common.Address{}) {
		return common.Hash{}, fmt.Errorf("%w: destination address required", ErrTransferFailed)
	}
	data, err := c.erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	hash, err := c.submit(ctx, c.token, data, transferGasLimit)
	if err != nil {
		return common.Hash{}, err
	}
	c.cache.Invalidate(to, c.token)
	c.cache.Invalidate(c.from, c.token)
	return hash, nil
}

// MintBadge submits an NFT badge mint carrying the metadata URI.
func (c *SettlementClient) MintBadge(ctx context.Context, to common.Address, tokenURI string) (common.Hash, error) {
	if (to == common.Address{}) {
		return common.Hash{}, fmt.Errorf("%w: destination address required", ErrMintFailed)
	}
	if strings.TrimSpace(tokenURI) == "" {
		return common.Hash{}, fmt.Errorf("%w: token uri required", ErrMintFailed)
	}
	data, err := c.badgeABI.Pack("mintTo", to, tokenURI)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	return c.submit(ctx, c.badge, data, mintGasLimit)
}

// BalanceOf returns the reward-token balance of owner, served from the cache
// inside the TTL window.
func (c *SettlementClient) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	if cached, ok := c.cache.Get(owner, c.token); ok {
		return cached, nil
	}
	data, err := c.erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	var raw []byte
	err = c.forEach(ctx, func(ctx context.Context, b rpcBackend) error {
		out, callErr := b.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: data}, nil)
		if callErr != nil {
			return callErr
		}
		raw = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	values, err := c.erc20ABI.Unpack("balanceOf", raw)
	if err != nil {
		return nil, err
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: unexpected balanceOf return type")
	}
	c.cache.Put(owner, c.token, balance)
	return balance, nil
}

// Receipt fetches the receipt for a submitted transaction through the
// endpoint pool. ethereum.NotFound passes through untouched so the caller can
// distinguish "not mined yet" from endpoint failure.
func (c *SettlementClient) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.forEach(ctx, func(ctx context.Context, b rpcBackend) error {
		r, rErr := b.TransactionReceipt(ctx, txHash)
		if rErr != nil {
			return rErr
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
