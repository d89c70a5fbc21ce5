package solana

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/coinwatch/service/chain"
)

// mockRPCClient implements RPCClient for testing. It's behavior-focused:
// we set what it should return, not verify call sequences.
type mockRPCClient struct {
	balance      uint64
	signatures   []*rpc.TransactionSignature
	transactions map[string]*rpc.GetTransactionResult
	err          error
}

func (m *mockRPCClient) GetBalance(
	ctx context.Context,
	account solana.PublicKey,
	commitment rpc.CommitmentType,
) (*rpc.GetBalanceResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &rpc.GetBalanceResult{Value: m.balance}, nil
}

func (m *mockRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.signatures, nil
}

func (m *mockRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.transactions == nil {
		return nil, nil
	}
	return m.transactions[signature.String()], nil
}

// makeTransactionResult wraps a transaction in a GetTransactionResult.
// The envelope has unexported fields, so we round-trip through JSON.
func makeTransactionResult(t *testing.T, tx *solana.Transaction) *rpc.GetTransactionResult {
	t.Helper()

	txJSON, err := json.Marshal(tx)
	require.NoError(t, err)

	var temp struct {
		Transaction json.RawMessage `json:"transaction"`
	}
	temp.Transaction = txJSON

	envelopeJSON, err := json.Marshal(temp)
	require.NoError(t, err)

	var result rpc.GetTransactionResult
	require.NoError(t, json.Unmarshal(envelopeJSON, &result))
	return &result
}

// makeTransferTransaction builds a transaction carrying one System Program
// transfer and, when memo is non-empty, an SPL memo instruction.
func makeTransferTransaction(from, to solana.PublicKey, lamports uint64, memo string) *solana.Transaction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransferInstruction)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{from, to, solana.SystemProgramID, memoProgramIDSPL},
			Instructions: []solana.CompiledInstruction{
				{
					ProgramIDIndex: 2,
					Accounts:       []uint16{0, 1},
					Data:           data,
				},
			},
		},
	}
	if memo != "" {
		tx.Message.Instructions = append(tx.Message.Instructions, solana.CompiledInstruction{
			ProgramIDIndex: 3,
			Data:           []byte(memo),
		})
	}
	return tx
}

var (
	testWallet = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	testSender = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	testSig1   = solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
	testSig2   = solana.MustSignatureFromBase58("2TgM4N8qCMqLvfR8dxqTQgKygPNzT5KQkN5b5sT7eZPEkdxyLTXGnNQB3j7KG4DPFg5Qez5yNJBQRQ5r7DDnFfjG")
)

func TestGetBalance(t *testing.T) {
	ctx := context.Background()
	a := New(&mockRPCClient{balance: 2500000000}, nil)

	balance, err := a.GetBalance(ctx, testWallet.String())
	require.NoError(t, err)
	assert.Equal(t, "sol", balance.Currency)
	assert.Equal(t, int64(2500000000), balance.Amount)
}

func TestGetBalance_InvalidAddressIsFatal(t *testing.T) {
	ctx := context.Background()
	a := New(&mockRPCClient{}, nil)

	_, err := a.GetBalance(ctx, "not-a-solana-address")
	require.Error(t, err)
	assert.True(t, chain.IsFatal(err))
}

func TestGetBalance_RPCErrorIsTransient(t *testing.T) {
	ctx := context.Background()
	a := New(&mockRPCClient{err: errors.New("node unavailable")}, nil)

	_, err := a.GetBalance(ctx, testWallet.String())
	require.Error(t, err)
	assert.False(t, chain.IsFatal(err))
}

func TestGetTransactions_InboundTransferWithMemo(t *testing.T) {
	ctx := context.Background()

	blockTime := solana.UnixTimeSeconds(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix())
	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{
			{
				Signature:          testSig1,
				Slot:               100,
				BlockTime:          &blockTime,
				ConfirmationStatus: rpc.ConfirmationStatusFinalized,
			},
		},
		transactions: map[string]*rpc.GetTransactionResult{
			testSig1.String(): makeTransactionResult(t,
				makeTransferTransaction(testSender, testWallet, 1000000000, "invoice-42")),
		},
	}

	a := New(mock, nil)
	txns, err := a.GetTransactions(ctx, testWallet.String())
	require.NoError(t, err)
	require.Len(t, txns, 1)

	txn := txns[0]
	assert.Equal(t, testSig1.String(), txn.ID)
	assert.Equal(t, testSender.String(), txn.FromAddress)
	assert.Equal(t, testWallet.String(), txn.ToAddress)
	assert.Equal(t, int64(1000000000), txn.Amount)
	require.NotNil(t, txn.Memo)
	assert.Equal(t, "invoice-42", *txn.Memo)
	assert.Equal(t, int64(2), txn.Confirmations)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), txn.BlockTime)
}

func TestGetTransactions_SkipsOutboundAndFailed(t *testing.T) {
	ctx := context.Background()

	other := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	blockTime := solana.UnixTimeSeconds(time.Now().Unix())
	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{
			{
				// Outbound: wallet paying someone else.
				Signature:          testSig1,
				BlockTime:          &blockTime,
				ConfirmationStatus: rpc.ConfirmationStatusFinalized,
			},
			{
				// Failed transaction.
				Signature: testSig2,
				BlockTime: &blockTime,
				Err:       map[string]any{"InstructionError": []any{}},
			},
		},
		transactions: map[string]*rpc.GetTransactionResult{
			testSig1.String(): makeTransactionResult(t,
				makeTransferTransaction(testWallet, other, 500, "")),
		},
	}

	a := New(mock, nil)
	txns, err := a.GetTransactions(ctx, testWallet.String())
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestGetTransactions_ConfirmationMapping(t *testing.T) {
	ctx := context.Background()

	blockTime := solana.UnixTimeSeconds(time.Now().Unix())
	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{
			{
				Signature:          testSig1,
				BlockTime:          &blockTime,
				ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
			},
			{
				Signature:          testSig2,
				BlockTime:          &blockTime,
				ConfirmationStatus: rpc.ConfirmationStatusProcessed,
			},
		},
		transactions: map[string]*rpc.GetTransactionResult{
			testSig1.String(): makeTransactionResult(t,
				makeTransferTransaction(testSender, testWallet, 100, "")),
			testSig2.String(): makeTransactionResult(t,
				makeTransferTransaction(testSender, testWallet, 200, "")),
		},
	}

	a := New(mock, nil)
	txns, err := a.GetTransactions(ctx, testWallet.String())
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, int64(1), txns[0].Confirmations)
	assert.Equal(t, int64(0), txns[1].Confirmations)
}

func TestParseInboundTransfer_RequiresSystemProgram(t *testing.T) {
	// A transfer-shaped instruction under some other program must not be
	// mistaken for a native SOL transfer. The key below differs from the
	// System Program (32 zero bytes) only in its last byte.
	notSystem := solana.MustPublicKeyFromBase58("11111111111111111111111111111112")
	require.False(t, notSystem.Equals(solana.SystemProgramID))

	tx := makeTransferTransaction(testSender, testWallet, 1000, "")
	tx.Message.AccountKeys[2] = notSystem

	_, found := parseInboundTransfer(makeTransactionResult(t, tx), testWallet)
	assert.False(t, found)
}

func TestGetTransactions_RPCErrorIsTransient(t *testing.T) {
	ctx := context.Background()
	a := New(&mockRPCClient{err: errors.New("rate limited")}, nil)

	_, err := a.GetTransactions(ctx, testWallet.String())
	require.Error(t, err)
	assert.False(t, chain.IsFatal(err))
}

func TestGetTransactions_SkipsUnparseableDetails(t *testing.T) {
	ctx := context.Background()

	blockTime := solana.UnixTimeSeconds(time.Now().Unix())
	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{
			{
				Signature:          testSig1,
				BlockTime:          &blockTime,
				ConfirmationStatus: rpc.ConfirmationStatusFinalized,
			},
		},
		// No transaction details available for the signature.
	}

	a := New(mock, nil)
	txns, err := a.GetTransactions(ctx, testWallet.String())
	require.NoError(t, err)
	assert.Empty(t, txns)
}
