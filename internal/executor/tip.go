package executor

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/mr-tron/base58"

	"solana-brain/internal/blockchain"
	"solana-brain/internal/config"
)

// Tip computes the lamport tip to attach to a bundle: a percentage of the
// trade size, clamped to the configured floor and ceiling so a tiny trade
// never goes unpriortized and a huge one never overpays.
func Tip(tradeSizeLamports uint64, cfg config.ExecutorConfig) uint64 {
	tip := uint64(float64(tradeSizeLamports) * cfg.TipPercentOfTrade / 100)
	if tip < cfg.MinTipLamports {
		tip = cfg.MinTipLamports
	}
	if tip > cfg.MaxTipLamports {
		tip = cfg.MaxTipLamports
	}
	return tip
}

// buildTipTransaction assembles and signs a minimal legacy transaction that
// transfers tipLamports from the wallet to tipAccount. It rides the same
// cached blockhash as the swap transaction so both land in the same bundle.
func buildTipTransaction(wallet *blockchain.Wallet, txBuilder *blockchain.TransactionBuilder, tipAccount string, tipLamports uint64) (string, error) {
	blockhash, err := txBuilder.GetRecentBlockhash()
	if err != nil {
		return "", fmt.Errorf("get blockhash for tip tx: %w", err)
	}
	blockhashBytes, err := base58.Decode(blockhash)
	if err != nil {
		return "", fmt.Errorf("decode blockhash: %w", err)
	}
	toPubkey, err := base58.Decode(tipAccount)
	if err != nil {
		return "", fmt.Errorf("decode tip account: %w", err)
	}

	fromPubkey := wallet.PublicKey()
	systemProgram := blockchain.SystemProgramIDBytes()

	// Legacy message: header, account keys, blockhash, compiled
	// instructions. Three accounts (payer, tip recipient, system program),
	// one instruction referencing them by index.
	var msg bytes.Buffer
	msg.WriteByte(1) // numRequiredSignatures
	msg.WriteByte(0) // numReadonlySignedAccounts
	msg.WriteByte(1) // numReadonlyUnsignedAccounts (system program)
	msg.WriteByte(3) // account count
	msg.Write(fromPubkey)
	msg.Write(toPubkey)
	msg.Write(systemProgram)
	msg.Write(blockhashBytes)

	data := txBuilder.BuildTipInstruction(tipLamports)
	msg.WriteByte(1)                // instruction count
	msg.WriteByte(2)                // program id index (system program)
	msg.WriteByte(2)                // number of accounts in this instruction
	msg.WriteByte(0)                // from index
	msg.WriteByte(1)                // to index
	msg.WriteByte(byte(len(data)))  // instruction data length
	msg.Write(data)

	message := msg.Bytes()
	signature := wallet.Sign(message)

	var tx bytes.Buffer
	tx.WriteByte(1) // signature count
	tx.Write(signature)
	tx.Write(message)

	return base64.StdEncoding.EncodeToString(tx.Bytes()), nil
}

// extractSignature pulls the base58 transaction signature out of a signed
// transaction built by blockchain.TransactionBuilder, which always places a
// single signature immediately after the leading count byte.
func extractSignature(signedTxBase64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(signedTxBase64)
	if err != nil {
		return "", fmt.Errorf("decode signed tx: %w", err)
	}
	if len(raw) < 65 {
		return "", fmt.Errorf("signed tx too short to contain a signature")
	}
	return base58.Encode(raw[1:65]), nil
}
