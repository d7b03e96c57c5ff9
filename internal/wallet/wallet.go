// Package wallet acquires the profile's signing key and binds it to a chain node.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/nfps-dev/nfp-bootloader/internal/cache"
	"github.com/nfps-dev/nfp-bootloader/internal/constants"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // cosmos account addresses are ripemd160(sha256(pubkey))
)

// Wallet is the single secp256k1 keypair of a profile.
type Wallet struct {
	key     *ecdsa.PrivateKey
	pubKey  []byte
	address string
}

// Ensure loads the private key cached at "sk" or generates and caches a new one.
// created reports whether a key was generated on this call.
func Ensure(ctx context.Context, store cache.Store, hrp string) (w *Wallet, created bool, err error) {
	if hrp == "" {
		hrp = constants.DefaultHRP
	}

	raw, ok, err := cache.ReadBase64(ctx, store, constants.SecretKeyKey)
	if err != nil {
		return nil, false, fmt.Errorf("wallet: load key: %w", err)
	}
	if ok {
		w, err := FromPrivateKey(raw, hrp)
		if err != nil {
			return nil, false, err
		}
		return w, false, nil
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, false, fmt.Errorf("wallet: generate key: %w", err)
	}
	if _, err := cache.WriteBase64(ctx, store, constants.SecretKeyKey, crypto.FromECDSA(key)); err != nil {
		return nil, false, fmt.Errorf("wallet: persist key: %w", err)
	}

	w, err = fromKey(key, hrp)
	if err != nil {
		return nil, false, err
	}
	log.Info("generated new profile key", "address", w.address)
	return w, true, nil
}

// FromPrivateKey builds a wallet from a raw 32-byte secp256k1 scalar.
func FromPrivateKey(raw []byte, hrp string) (*Wallet, error) {
	if len(raw) != 32 {
		return nil, fmt.Errorf("wallet: private key must be 32 bytes, got %d", len(raw))
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("wallet: to ecdsa: %w", err)
	}
	return fromKey(key, hrp)
}

func fromKey(key *ecdsa.PrivateKey, hrp string) (*Wallet, error) {
	pub := crypto.CompressPubkey(&key.PublicKey)
	addr, err := AddressFromPubKey(hrp, pub)
	if err != nil {
		return nil, err
	}
	return &Wallet{key: key, pubKey: pub, address: addr}, nil
}

// Address is the bech32 account address.
func (w *Wallet) Address() string { return w.address }

// PubKey is the 33-byte compressed public key.
func (w *Wallet) PubKey() []byte {
	out := make([]byte, len(w.pubKey))
	copy(out, w.pubKey)
	return out
}

// Sign hashes msg with sha256 and returns the 64-byte R||S signature.
func (w *Wallet) Sign(msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	sig, err := crypto.Sign(digest[:], w.key)
	if err != nil {
		return nil, fmt.Errorf("wallet: sign: %w", err)
	}
	return sig[:64], nil
}

// AddressFromPubKey derives bech32(hrp, ripemd160(sha256(pub))).
func AddressFromPubKey(hrp string, pub []byte) (string, error) {
	sha := sha256.Sum256(pub)
	h := ripemd160.New()
	_, _ = h.Write(sha[:])

	conv, err := bech32.ConvertBits(h.Sum(nil), 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("wallet: convert bits: %w", err)
	}
	addr, err := bech32.Encode(hrp, conv)
	if err != nil {
		return "", fmt.Errorf("wallet: bech32 encode: %w", err)
	}
	return addr, nil
}

// ValidateAddress checks that addr is bech32 with the given human readable part.
func ValidateAddress(hrp, addr string) error {
	got, data, err := bech32.Decode(addr)
	if err != nil {
		return fmt.Errorf("invalid bech32 address: %w", err)
	}
	if got != hrp {
		return fmt.Errorf("address prefix %q, want %q", got, hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return fmt.Errorf("invalid address payload: %w", err)
	}
	if len(raw) != 20 && len(raw) != 32 {
		return errors.New("address payload must be 20 or 32 bytes")
	}
	return nil
}
