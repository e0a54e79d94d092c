package wallet

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"golang.org/x/crypto/ripemd160"
)

// TreasuryDeriver turns an extended public key into receive-only treasury
// addresses, one child per coin. The matching private keys never touch this
// service, so sweeps out of the treasury happen elsewhere.
//
// XPub is expected at path m/44'/0'/0'/0.
type TreasuryDeriver struct {
	XPub   string
	Prefix string
}

// Enabled reports whether the deriver has the key material to work with.
func (d TreasuryDeriver) Enabled() bool {
	return d.XPub != "" && d.Prefix != ""
}

func (d TreasuryDeriver) Derive(index uint32) (string, error) {
	if !d.Enabled() {
		return "", fmt.Errorf("treasury deriver is not configured")
	}

	key, err := hdkeychain.NewKeyFromString(d.XPub)
	if err != nil {
		return "", fmt.Errorf("parse treasury xpub: %w", err)
	}
	child, err := key.Derive(index)
	if err != nil {
		return "", fmt.Errorf("derive child %d: %w", index, err)
	}
	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", err
	}

	words, err := bech32.ConvertBits(hash160(pubKey.SerializeCompressed()), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(d.Prefix, words)
}

func hash160(b []byte) []byte {
	sha := sha256.Sum256(b)
	rip := ripemd160.New()
	_, _ = rip.Write(sha[:])
	return rip.Sum(nil)
}
