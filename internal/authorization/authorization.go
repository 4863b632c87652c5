// Package authorization builds EIP-7702 authorization tuples that delegate an
// account's code to a contract.
package authorization

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-gasless/internal/codec"
	"github.com/0gfoundation/0g-gasless/internal/signer"
)

// Magic is the EIP-7702 domain byte prepended to the RLP tuple.
const Magic byte = 0x05

// Signature is the JSON form of a raw authorization signature.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V uint8  `json:"v"`
}

// Data is a signed authorization as sent to the relay.
type Data struct {
	DelegateAddress string    `json:"delegateAddress"`
	Nonce           uint64    `json:"nonce"`
	ChainID         uint64    `json:"chainId"`
	Signature       Signature `json:"signature"`
}

// Preimage returns 0x05 ‖ rlp([chainId, delegate, nonce]).
func Preimage(chainID uint64, delegate common.Address, nonce uint64) ([]byte, error) {
	list, err := codec.RLPEncodeList(chainID, delegate, nonce)
	if err != nil {
		return nil, err
	}
	return append([]byte{Magic}, list...), nil
}

// Digest is keccak256 of the preimage. It is signed without a prefix.
func Digest(chainID uint64, delegate common.Address, nonce uint64) (signer.RawDigest, error) {
	pre, err := Preimage(chainID, delegate, nonce)
	if err != nil {
		return signer.RawDigest{}, err
	}
	var d signer.RawDigest
	copy(d[:], codec.Keccak256(pre))
	return d, nil
}

// Build signs an authorization delegating key's account to delegate. It does
// no network I/O; the account nonce must be supplied by the caller.
func Build(key *signer.Key, delegate string, nonce, chainID uint64) (*Data, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil key", signer.ErrSigning)
	}
	addr, err := codec.DecodeAddress(delegate)
	if err != nil {
		return nil, fmt.Errorf("delegate address: %w", err)
	}
	d, err := Digest(chainID, addr, nonce)
	if err != nil {
		return nil, err
	}
	sig, err := key.SignRaw(d)
	if err != nil {
		return nil, err
	}
	return &Data{
		DelegateAddress: addr.Hex(),
		Nonce:           nonce,
		ChainID:         chainID,
		Signature: Signature{
			R: sig.RHex(),
			S: sig.SHex(),
			V: sig.V,
		},
	}, nil
}

// Recover returns the authority that signed d.
func Recover(d *Data) (common.Address, error) {
	delegate, err := codec.DecodeAddress(d.DelegateAddress)
	if err != nil {
		return common.Address{}, fmt.Errorf("delegate address: %w", err)
	}
	sig, err := d.signature()
	if err != nil {
		return common.Address{}, err
	}
	digest, err := Digest(d.ChainID, delegate, d.Nonce)
	if err != nil {
		return common.Address{}, err
	}
	return signer.RecoverRaw(digest, sig)
}

func (d *Data) signature() (signer.Signature, error) {
	r, err := codec.DecodeHex(d.Signature.R)
	if err != nil {
		return signer.Signature{}, fmt.Errorf("signature r: %w", err)
	}
	s, err := codec.DecodeHex(d.Signature.S)
	if err != nil {
		return signer.Signature{}, fmt.Errorf("signature s: %w", err)
	}
	if len(r) != 32 || len(s) != 32 {
		return signer.Signature{}, fmt.Errorf("%w: r and s must be 32 bytes", codec.ErrEncoding)
	}
	var sig signer.Signature
	copy(sig.R[:], r)
	copy(sig.S[:], s)
	sig.V = d.Signature.V
	return sig, nil
}
