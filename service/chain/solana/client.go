// Package solana implements a chain.Adapter backed by a Solana RPC node.
package solana

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/brojonat/coinwatch/service/chain"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real nodes.
type RPCClient interface {
	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)

	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// realRPCClient adapts the solana-go RPC client to the RPCClient interface.
type realRPCClient struct {
	client *rpc.Client
}

// NewRPCClient creates an RPCClient that wraps the solana-go RPC client.
// For premium RPC endpoints that require API keys, include the key in the URL.
func NewRPCClient(rpcURL string) RPCClient {
	return &realRPCClient{client: rpc.New(rpcURL)}
}

func (r *realRPCClient) GetBalance(
	ctx context.Context,
	account solana.PublicKey,
	commitment rpc.CommitmentType,
) (*rpc.GetBalanceResult, error) {
	return r.client.GetBalance(ctx, account, commitment)
}

func (r *realRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	return r.client.GetSignaturesForAddressWithOpts(ctx, address, opts)
}

func (r *realRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	return r.client.GetTransaction(ctx, signature, opts)
}

// defaultTxnLimit caps how many signatures one poll inspects.
const defaultTxnLimit = 10

// Adapter fetches Solana wallet state and normalizes native SOL transfers
// into chain.Transactions.
type Adapter struct {
	rpc      RPCClient
	logger   *slog.Logger
	txnLimit int
}

// New creates a Solana adapter. A nil logger discards output.
func New(rpcClient RPCClient, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Adapter{
		rpc:      rpcClient,
		logger:   logger,
		txnLimit: defaultTxnLimit,
	}
}

// Currency returns "sol".
func (a *Adapter) Currency() string { return "sol" }

// GetBalance returns the wallet balance in lamports.
func (a *Adapter) GetBalance(ctx context.Context, address string) (chain.Balance, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return chain.Balance{}, chain.Fatal(fmt.Errorf("invalid solana address %q: %w", address, err))
	}

	result, err := a.rpc.GetBalance(ctx, pubkey, rpc.CommitmentFinalized)
	if err != nil {
		return chain.Balance{}, chain.Transient(err)
	}
	return chain.Balance{Currency: "sol", Amount: int64(result.Value)}, nil
}

// GetTransactions returns recent inbound SOL transfers to the address,
// newest first. Confirmation counts come from the cluster's commitment
// level: processed is 0, confirmed is 1, finalized is 2.
func (a *Adapter) GetTransactions(ctx context.Context, address string) ([]chain.Transaction, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, chain.Fatal(fmt.Errorf("invalid solana address %q: %w", address, err))
	}

	limit := a.txnLimit
	signatures, err := a.rpc.GetSignaturesForAddress(ctx, pubkey, &rpc.GetSignaturesForAddressOpts{
		Limit: &limit,
	})
	if err != nil {
		return nil, chain.Transient(err)
	}

	maxVersion := uint64(0)
	txns := make([]chain.Transaction, 0, len(signatures))
	for _, sig := range signatures {
		if sig.Err != nil {
			// Failed transaction; can never satisfy a payment.
			continue
		}

		result, err := a.rpc.GetTransaction(ctx, sig.Signature, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if err != nil {
			// Individual lookups can fail (pruned history, rate limits);
			// skip the transaction and keep the rest of the snapshot.
			a.logger.WarnContext(ctx, "failed to fetch transaction details",
				"signature", sig.Signature.String(),
				"error", err,
			)
			continue
		}

		transfer, ok := parseInboundTransfer(result, pubkey)
		if !ok {
			continue
		}

		blockTime := time.Time{}
		if sig.BlockTime != nil {
			blockTime = sig.BlockTime.Time().UTC()
		}

		txns = append(txns, chain.Transaction{
			ID:            sig.Signature.String(),
			FromAddress:   transfer.from,
			ToAddress:     address,
			Amount:        transfer.lamports,
			Memo:          transfer.memo,
			Confirmations: confirmationsFor(sig.ConfirmationStatus),
			BlockTime:     blockTime,
		})
	}
	return txns, nil
}

func confirmationsFor(status rpc.ConfirmationStatusType) int64 {
	switch status {
	case rpc.ConfirmationStatusFinalized:
		return 2
	case rpc.ConfirmationStatusConfirmed:
		return 1
	default:
		return 0
	}
}
