// internal/chains/tron/signer.go
package tron

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"google.golang.org/protobuf/proto"
)

func rawDataHash(tx *core.Transaction) ([]byte, error) {
	rawData, err := proto.Marshal(tx.RawData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw data: %w", err)
	}
	hash := sha256.Sum256(rawData)
	return hash[:], nil
}

// signTransaction signs sha256(raw_data) and returns the transaction id.
func signTransaction(tx *core.Transaction, key *ecdsa.PrivateKey) (string, error) {
	hash, err := rawDataHash(tx)
	if err != nil {
		return "", err
	}
	signature, err := crypto.Sign(hash, key)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	tx.Signature = [][]byte{signature}
	return hex.EncodeToString(hash), nil
}

// signerOf recovers the address that produced the first signature.
func signerOf(tx *core.Transaction) (string, error) {
	if len(tx.Signature) == 0 {
		return "", fmt.Errorf("no signature found")
	}
	hash, err := rawDataHash(tx)
	if err != nil {
		return "", err
	}
	pubKey, err := crypto.SigToPub(hash, tx.Signature[0])
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return address.PubkeyToAddress(*pubKey).String(), nil
}
