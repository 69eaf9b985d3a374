// internal/chains/bitcoin/transaction.go
package bitcoin

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// rbfSequence opts every input into replace-by-fee.
const rbfSequence = 0xfffffffd

// TransactionBuilder assembles and signs a P2WPKH spend from one key.
type TransactionBuilder struct {
	network  *chaincfg.Params
	tx       *wire.MsgTx
	key      *btcec.PrivateKey
	pkScript []byte
	prevOuts map[wire.OutPoint]*wire.TxOut
}

// NewTransactionBuilder spends outputs locked to the P2WPKH address of key.
func NewTransactionBuilder(network *chaincfg.Params, key *btcec.PrivateKey) (*TransactionBuilder, error) {
	addr, err := witnessAddress(key.PubKey(), network)
	if err != nil {
		return nil, err
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create script: %w", err)
	}
	return &TransactionBuilder{
		network:  network,
		tx:       wire.NewMsgTx(2),
		key:      key,
		pkScript: pkScript,
		prevOuts: make(map[wire.OutPoint]*wire.TxOut),
	}, nil
}

func (tb *TransactionBuilder) AddInput(utxo UTXO) error {
	prevHash, err := chainhash.NewHashFromStr(utxo.TxID)
	if err != nil {
		return fmt.Errorf("invalid txid: %w", err)
	}
	outpoint := wire.NewOutPoint(prevHash, utxo.Vout)

	txIn := wire.NewTxIn(outpoint, nil, nil)
	txIn.Sequence = rbfSequence
	tb.tx.AddTxIn(txIn)
	tb.prevOuts[*outpoint] = wire.NewTxOut(utxo.Value, tb.pkScript)
	return nil
}

func (tb *TransactionBuilder) AddOutput(address string, amountSats int64) error {
	addr, err := btcutil.DecodeAddress(address, tb.network)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return fmt.Errorf("failed to create script: %w", err)
	}
	tb.tx.AddTxOut(wire.NewTxOut(amountSats, pkScript))
	return nil
}

// Sign attaches a segwit witness to every input.
func (tb *TransactionBuilder) Sign() error {
	fetcher := txscript.NewMultiPrevOutFetcher(tb.prevOuts)
	sigHashes := txscript.NewTxSigHashes(tb.tx, fetcher)

	for i, in := range tb.tx.TxIn {
		prev := fetcher.FetchPrevOutput(in.PreviousOutPoint)
		if prev == nil {
			return fmt.Errorf("missing previous output for input %d", i)
		}
		witness, err := txscript.WitnessSignature(tb.tx, sigHashes, i, prev.Value,
			tb.pkScript, txscript.SigHashAll, tb.key, true)
		if err != nil {
			return fmt.Errorf("failed to sign input %d: %w", i, err)
		}
		tb.tx.TxIn[i].Witness = witness
	}
	return nil
}

// Serialize returns the raw transaction hex.
func (tb *TransactionBuilder) Serialize() (string, error) {
	var buf bytes.Buffer
	if err := tb.tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// TxHash is the txid, which excludes witness data.
func (tb *TransactionBuilder) TxHash() string {
	return tb.tx.TxHash().String()
}
