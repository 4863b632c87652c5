// Package signer provides the two signing modes used by the engine: raw
// digest signing for EIP-7702 authorizations and EIP-191 personal signing
// for relay challenges and batch digests.
package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrSigning is returned for invalid key material or a failed signature.
var ErrSigning = errors.New("signing error")

// RawDigest is a 32-byte hash signed without any prefix. Only digests built
// for that purpose should be converted to it.
type RawDigest [32]byte

// Key is a secp256k1 private key with its cached address.
type Key struct {
	priv *ecdsa.PrivateKey
	addr common.Address
}

// ParseKey parses a 32-byte hex private key, with or without 0x.
func ParseKey(hexKey string) (*Key, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	priv, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrSigning, err)
	}
	return NewKey(priv)
}

// NewKey wraps an existing private key.
func NewKey(priv *ecdsa.PrivateKey) (*Key, error) {
	if priv == nil || priv.D == nil || priv.D.Sign() <= 0 {
		return nil, fmt.Errorf("%w: empty private key", ErrSigning)
	}
	return &Key{priv: priv, addr: crypto.PubkeyToAddress(priv.PublicKey)}, nil
}

func (k *Key) Address() common.Address { return k.addr }

// String never includes key material.
func (k *Key) String() string { return "signer.Key(" + k.addr.Hex() + ")" }

// SignRaw signs d as-is. V is returned as 27 or 28.
func (k *Key) SignRaw(d RawDigest) (Signature, error) {
	return k.sign(d[:])
}

// SignPersonal signs keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg).
func (k *Key) SignPersonal(msg []byte) (Signature, error) {
	return k.sign(HashPersonal(msg))
}

func (k *Key) sign(hash []byte) (Signature, error) {
	if k == nil || k.priv == nil {
		return Signature{}, fmt.Errorf("%w: nil key", ErrSigning)
	}
	sig, err := crypto.Sign(hash, k.priv)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	// crypto.Sign returns V in {0,1}
	sig[64] += 27
	return SignatureFromBytes(sig)
}

// HashPersonal constructs the EIP-191 prefixed hash.
func HashPersonal(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return crypto.Keccak256([]byte(prefix), msg)
}

// RecoverPersonal returns the address that personally signed msg.
func RecoverPersonal(msg []byte, sig Signature) (common.Address, error) {
	return recoverHash(HashPersonal(msg), sig)
}

// RecoverRaw returns the address that signed d without a prefix.
func RecoverRaw(d RawDigest, sig Signature) (common.Address, error) {
	return recoverHash(d[:], sig)
}

func recoverHash(hash []byte, sig Signature) (common.Address, error) {
	b := sig.Bytes()
	// ecrecover expects 0/1
	if b[64] >= 27 {
		b[64] -= 27
	}
	pub, err := crypto.SigToPub(hash, b)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
