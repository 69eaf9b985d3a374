// internal/chains/substrate/ss58.go
package substrate

import (
	"bytes"
	"errors"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

var ss58Prefix = []byte("SS58PRE")

var errInvalidSS58 = errors.New("invalid ss58 address")

func ss58Checksum(data []byte) []byte {
	sum := blake2b.Sum512(append(append([]byte{}, ss58Prefix...), data...))
	return sum[:2]
}

// EncodeSS58 encodes a 32 byte public key for a simple (< 64) network prefix.
func EncodeSS58(pub []byte, prefix uint8) string {
	data := append([]byte{prefix}, pub...)
	return base58.Encode(append(data, ss58Checksum(data)...))
}

// DecodeSS58 returns the public key and network prefix of address.
func DecodeSS58(address string) ([]byte, uint8, error) {
	raw, err := base58.Decode(address)
	if err != nil || len(raw) != 35 || raw[0] >= 64 {
		return nil, 0, errInvalidSS58
	}
	data, sum := raw[:33], raw[33:]
	if !bytes.Equal(ss58Checksum(data), sum) {
		return nil, 0, errInvalidSS58
	}
	return data[1:], data[0], nil
}
