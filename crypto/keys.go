package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part of a bech32 identity.
type AddressPrefix string

const (
	// RegistryPrefix is used for every owner, payer and authority identity.
	RegistryPrefix AddressPrefix = "ca"

	// AddressLength is the raw byte length of an identity.
	AddressLength = 20
)

// ErrInvalidAddress is returned when an identity string cannot be decoded.
var ErrInvalidAddress = errors.New("crypto: invalid address")

// Address represents a 20-byte identity rendered with a bech32 prefix.
type Address struct {
	prefix AddressPrefix
	bytes  [AddressLength]byte
}

// NewAddress wraps raw bytes. It panics when b is not exactly 20 bytes long;
// use AddressFromBytes for untrusted input.
func NewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := AddressFromBytes(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

// AddressFromBytes wraps raw bytes after validating their length.
func AddressFromBytes(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidAddress, AddressLength, len(b))
	}
	var raw [AddressLength]byte
	copy(raw[:], b)
	return Address{prefix: prefix, bytes: raw}, nil
}

// FromRaw builds a registry address from a fixed-size identity.
func FromRaw(raw [AddressLength]byte) Address {
	return Address{prefix: RegistryPrefix, bytes: raw}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.bytes[:])
	return out
}

// Raw returns the fixed-size identity used by the registry state.
func (a Address) Raw() [AddressLength]byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether every identity byte is zero.
func (a Address) IsZero() bool {
	return a.bytes == [AddressLength]byte{}
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(strings.TrimSpace(addrStr))
	if err != nil {
		return Address{}, fmt.Errorf("%w: invalid bech32 string: %v", ErrInvalidAddress, err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("%w: error converting bits: %v", ErrInvalidAddress, err)
	}
	return AddressFromBytes(AddressPrefix(prefix), conv)
}

// ParseIdentity accepts either a bech32 registry address or a 0x-prefixed hex
// string and returns the raw identity bytes.
func ParseIdentity(value string) ([AddressLength]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [AddressLength]byte{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		decoded, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return [AddressLength]byte{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		addr, err := AddressFromBytes(RegistryPrefix, decoded)
		if err != nil {
			return [AddressLength]byte{}, err
		}
		return addr.Raw(), nil
	}
	addr, err := DecodeAddress(trimmed)
	if err != nil {
		return [AddressLength]byte{}, err
	}
	if addr.Prefix() != RegistryPrefix {
		return [AddressLength]byte{}, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidAddress, addr.Prefix())
	}
	return addr.Raw(), nil
}

// FormatIdentity renders a raw identity with the registry prefix.
func FormatIdentity(raw [AddressLength]byte) string {
	return FromRaw(raw).String()
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return NewAddress(RegistryPrefix, addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
