// Package chain moves native value to destination accounts over an EVM JSON-RPC endpoint.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/mpesa-token-bridge/internal/config"
	"github.com/mpesa-token-bridge/internal/domain/payment"
)

// Backend is the subset of ethclient.Client used to sign, submit and confirm transfers
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Transferer implements the value transfer client
type Transferer struct {
	backend        Backend
	key            *ecdsa.PrivateKey
	from           common.Address
	gasLimit       uint64
	receiptTimeout time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
	close          func()

	// Serializes nonce allocation and submission from the shared sender account
	mu sync.Mutex
}

// Dial connects to the configured RPC endpoint
func Dial(ctx context.Context, logger *slog.Logger, cfg *config.ChainConfig) (*Transferer, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain RPC: %w", err)
	}

	t, err := NewTransferer(logger, client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	t.close = client.Close
	return t, nil
}

// NewTransferer builds a transferer on an existing backend
func NewTransferer(logger *slog.Logger, backend Backend, cfg *config.ChainConfig) (*Transferer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid CHAIN_PRIVATE_KEY: %w", err)
	}

	pollInterval := cfg.ReceiptPollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	logger.Info("Chain transferer ready", "from", from.Hex())

	return &Transferer{
		backend:        backend,
		key:            key,
		from:           from,
		gasLimit:       cfg.GasLimit,
		receiptTimeout: cfg.ReceiptTimeout,
		pollInterval:   pollInterval,
		logger:         logger,
	}, nil
}

// From returns the sender account
func (t *Transferer) From() common.Address {
	return t.from
}

// Close releases the RPC connection when the transferer owns it
func (t *Transferer) Close() {
	if t.close != nil {
		t.close()
	}
}

// Transfer sends amount tokens to destination and waits for a successful receipt.
// Every failure is a payment.TransferFailedError; a submitted transaction whose
// receipt does not arrive in time is reported with its hash for manual follow-up.
func (t *Transferer) Transfer(ctx context.Context, destination string, amount decimal.Decimal) (*payment.TransferReceipt, error) {
	to, err := ResolveAddress(destination)
	if err != nil {
		return nil, payment.TransferFailedError{Reason: err.Error()}
	}
	value, err := ToWei(amount)
	if err != nil {
		return nil, payment.TransferFailedError{Reason: err.Error()}
	}

	tx, err := t.submit(ctx, to, value)
	if err != nil {
		return nil, payment.TransferFailedError{Reason: err.Error()}
	}

	logger := t.logger.With("tx_hash", tx.Hash().Hex(), "to", to.Hex())
	logger.Info("Transfer submitted", "amount", amount.String())

	receipt, err := t.waitForReceipt(ctx, tx.Hash())
	if err != nil {
		logger.Error("Transfer not confirmed", "error", err)
		return nil, payment.TransferFailedError{Reason: fmt.Sprintf("transaction %s not confirmed: %v", tx.Hash().Hex(), err)}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		logger.Error("Transfer reverted", "block", receipt.BlockNumber)
		return nil, payment.TransferFailedError{Reason: fmt.Sprintf("transaction %s reverted", tx.Hash().Hex())}
	}

	logger.Info("Transfer confirmed", "block", receipt.BlockNumber)
	return &payment.TransferReceipt{ReceiptID: tx.Hash().Hex()}, nil
}

func (t *Transferer) submit(ctx context.Context, to common.Address, value *big.Int) (*types.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	chainID, err := t.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	nonce, err := t.backend.PendingNonceAt(ctx, t.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      t.gasLimit,
		GasPrice: gasPrice,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), t.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	return signed, nil
}

func (t *Transferer) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, t.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			t.logger.Warn("Receipt lookup failed, retrying", "tx_hash", hash.Hex(), "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
