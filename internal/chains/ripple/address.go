// internal/chains/ripple/address.go
package ripple

import (
	"bytes"
	"crypto/sha256"
	"errors"

	"github.com/mr-tron/base58"
)

var alphabet = base58.NewAlphabet("rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz")

const accountVersion = 0x00

var errInvalidAddress = errors.New("invalid classic address")

func checksum(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:4]
}

// EncodeAccountID renders a 20 byte account id as a classic r-address.
func EncodeAccountID(id []byte) string {
	payload := append([]byte{accountVersion}, id...)
	return base58.EncodeAlphabet(append(payload, checksum(payload)...), alphabet)
}

// DecodeAddress returns the account id behind a classic address.
func DecodeAddress(address string) ([]byte, error) {
	raw, err := base58.DecodeAlphabet(address, alphabet)
	if err != nil || len(raw) != 25 || raw[0] != accountVersion {
		return nil, errInvalidAddress
	}
	if !bytes.Equal(checksum(raw[:21]), raw[21:]) {
		return nil, errInvalidAddress
	}
	return raw[1:21], nil
}
