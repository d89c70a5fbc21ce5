package solana

import (
	"encoding/base64"
	"encoding/binary"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Well-known Solana program IDs.
var (
	// memoProgramIDSPL is the SPL Memo program (most common).
	memoProgramIDSPL = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

	// memoProgramIDLegacy is the v1 memo program.
	memoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
)

// systemTransferInstruction is the System Program's Transfer instruction type.
const systemTransferInstruction = uint32(2)

// inboundTransfer holds the fields of a native SOL transfer addressed to the
// watched wallet.
type inboundTransfer struct {
	from     string
	lamports int64
	memo     *string
}

// parseInboundTransfer walks a transaction's instructions looking for a
// System Program transfer whose destination is the watched wallet. Any memo
// instruction in the same transaction is attached to the transfer. Returns
// false when the transaction contains no qualifying transfer.
func parseInboundTransfer(result *rpc.GetTransactionResult, wallet solana.PublicKey) (inboundTransfer, bool) {
	if result == nil {
		return inboundTransfer{}, false
	}
	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return inboundTransfer{}, false
	}

	accountKeys := tx.Message.AccountKeys
	var transfer inboundTransfer
	found := false

	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		switch {
		case programID.Equals(solana.SystemProgramID):
			lamports, from, to, ok := parseSystemTransfer(instruction, accountKeys)
			if ok && to.Equals(wallet) {
				transfer.lamports = int64(lamports)
				transfer.from = from.String()
				found = true
			}

		case programID.Equals(memoProgramIDSPL) || programID.Equals(memoProgramIDLegacy):
			if memo := parseMemo(instruction.Data); memo != "" {
				m := memo
				transfer.memo = &m
			}
		}
	}

	return transfer, found
}

// parseSystemTransfer decodes a System Program Transfer instruction.
// Layout: [0..4] instruction type (u32, 2 = Transfer), [4..12] lamports (u64).
// Accounts: [from, to].
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (uint64, solana.PublicKey, solana.PublicKey, bool) {
	if len(instruction.Data) < 12 {
		return 0, solana.PublicKey{}, solana.PublicKey{}, false
	}
	if binary.LittleEndian.Uint32(instruction.Data[0:4]) != systemTransferInstruction {
		return 0, solana.PublicKey{}, solana.PublicKey{}, false
	}
	if len(instruction.Accounts) < 2 {
		return 0, solana.PublicKey{}, solana.PublicKey{}, false
	}

	fromIdx := instruction.Accounts[0]
	toIdx := instruction.Accounts[1]
	if int(fromIdx) >= len(accountKeys) || int(toIdx) >= len(accountKeys) {
		return 0, solana.PublicKey{}, solana.PublicKey{}, false
	}

	lamports := binary.LittleEndian.Uint64(instruction.Data[4:12])
	return lamports, accountKeys[fromIdx], accountKeys[toIdx], true
}

// parseMemo extracts the memo text from a Memo Program instruction. Memos
// are usually raw UTF-8, but some wallets base64 encode them.
func parseMemo(data []byte) string {
	memo := string(data)
	if decoded, err := base64.StdEncoding.DecodeString(memo); err == nil {
		if utf8.Valid(decoded) && len(decoded) > 0 {
			return string(decoded)
		}
	}
	return memo
}
