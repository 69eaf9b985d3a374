// internal/chains/cosmos/tx.go
package cosmos

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	msgSendTypeURL = "/cosmos.bank.v1beta1.MsgSend"
	pubKeyTypeURL  = "/cosmos.crypto.secp256k1.PubKey"
	signModeDirect = 1
)

type coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// sendTx is everything needed to produce a signed bank send.
type sendTx struct {
	From          string
	To            string
	Amount        coin
	Fee           coin
	GasLimit      uint64
	Memo          string
	ChainID       string
	AccountNumber uint64
	Sequence      uint64
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	return appendBytes(b, num, []byte(v))
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func encodeCoin(c coin) []byte {
	var b []byte
	b = appendString(b, 1, c.Denom)
	return appendString(b, 2, c.Amount)
}

func encodeAny(typeURL string, value []byte) []byte {
	var b []byte
	b = appendString(b, 1, typeURL)
	return appendBytes(b, 2, value)
}

func (t *sendTx) bodyBytes() []byte {
	var msg []byte
	msg = appendString(msg, 1, t.From)
	msg = appendString(msg, 2, t.To)
	msg = appendBytes(msg, 3, encodeCoin(t.Amount))

	var body []byte
	body = appendBytes(body, 1, encodeAny(msgSendTypeURL, msg))
	return appendString(body, 2, t.Memo)
}

func (t *sendTx) authInfoBytes(pub *secp256k1.PublicKey) []byte {
	pubKey := appendBytes(nil, 1, pub.SerializeCompressed())

	single := appendVarint(nil, 1, signModeDirect)
	modeInfo := appendBytes(nil, 1, single)

	var signer []byte
	signer = appendBytes(signer, 1, encodeAny(pubKeyTypeURL, pubKey))
	signer = appendBytes(signer, 2, modeInfo)
	signer = appendVarint(signer, 3, t.Sequence)

	var fee []byte
	fee = appendBytes(fee, 1, encodeCoin(t.Fee))
	fee = appendVarint(fee, 2, t.GasLimit)

	var auth []byte
	auth = appendBytes(auth, 1, signer)
	return appendBytes(auth, 2, fee)
}

func (t *sendTx) signDoc(body, authInfo []byte) []byte {
	var doc []byte
	doc = appendBytes(doc, 1, body)
	doc = appendBytes(doc, 2, authInfo)
	doc = appendString(doc, 3, t.ChainID)
	return appendVarint(doc, 4, t.AccountNumber)
}

// sign returns the encoded TxRaw ready for broadcast.
func (t *sendTx) sign(key *secp256k1.PrivateKey) []byte {
	body := t.bodyBytes()
	authInfo := t.authInfoBytes(key.PubKey())

	digest := sha256.Sum256(t.signDoc(body, authInfo))
	// compact form is recovery byte followed by r and s
	sig := ecdsa.SignCompact(key, digest[:], true)[1:]

	var raw []byte
	raw = appendBytes(raw, 1, body)
	raw = appendBytes(raw, 2, authInfo)
	return appendBytes(raw, 3, sig)
}

// txHash is the upper case hex sha256 of the raw transaction.
func txHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
