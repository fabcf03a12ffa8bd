package wallet

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// systemTransferInstruction is the instruction index of SystemProgram::Transfer.
const systemTransferInstruction = 2

// systemProgramID is the all-zero public key of the system program.
var systemProgramID = make([]byte, 32)

// buildTransferTransaction serializes an unsigned legacy transaction moving
// lamports from one account to another, with a zeroed signature placeholder
// for the fee payer. Returns base64 suitable for SignTransaction.
func buildTransferTransaction(from, to string, lamports uint64, blockhash string) (string, error) {
	fromKey, err := decodePubkey(from)
	if err != nil {
		return "", fmt.Errorf("from address: %w", err)
	}
	toKey, err := decodePubkey(to)
	if err != nil {
		return "", fmt.Errorf("to address: %w", err)
	}
	hash, err := decodePubkey(blockhash)
	if err != nil {
		return "", fmt.Errorf("blockhash: %w", err)
	}

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransferInstruction)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	var msg []byte
	// Header: 1 required signature, 0 readonly signed, 1 readonly unsigned.
	msg = append(msg, 1, 0, 1)
	// Account keys: fee payer, destination, system program.
	msg = append(msg, encodeCompactU16(3)...)
	msg = append(msg, fromKey...)
	msg = append(msg, toKey...)
	msg = append(msg, systemProgramID...)
	msg = append(msg, hash...)
	// Single transfer instruction.
	msg = append(msg, encodeCompactU16(1)...)
	msg = append(msg, 2) // program id index
	msg = append(msg, encodeCompactU16(2)...)
	msg = append(msg, 0, 1) // account indexes: from, to
	msg = append(msg, encodeCompactU16(len(data))...)
	msg = append(msg, data...)

	var tx []byte
	tx = append(tx, encodeCompactU16(1)...)
	tx = append(tx, make([]byte, ed25519.SignatureSize)...)
	tx = append(tx, msg...)

	return base64.StdEncoding.EncodeToString(tx), nil
}

func decodePubkey(s string) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("decoded to %d bytes, want 32", len(raw))
	}
	return raw, nil
}
