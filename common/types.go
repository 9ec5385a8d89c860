// Package common defines the primitive wire types shared by every other
// package in this module: fixed-size addresses and hashes, plus the hex
// codecs used at every JSON boundary.
package common

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const (
	// HashLength is the expected length of a block/transaction hash.
	HashLength = 32
	// AddressLength is the expected length of an address.
	AddressLength = 20
)

// Hash represents a 32-byte SHA-256 digest.
type Hash [HashLength]byte

// BytesToHash sets the hash to the value of b, left-padding or truncating
// from the left as needed.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// HexToHash parses a 0x-prefixed hex string into a Hash.
func HexToHash(s string) Hash { return BytesToHash(fromHex(s)) }

func (h Hash) Bytes() []byte  { return h[:] }
func (h Hash) Hex() string    { return "0x" + hex.EncodeToString(h[:]) }
func (h Hash) String() string { return h.Hex() }
func (h Hash) IsZero() bool   { return h == Hash{} }

func (h Hash) MarshalJSON() ([]byte, error) { return json.Marshal(h.Hex()) }

func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*h = HexToHash(s)
	return nil
}

// MarshalText and UnmarshalText let Hash serve as a JSON object key (the
// encoding/json package only accepts encoding.TextMarshaler map keys, not
// json.Marshaler ones).
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

func (h *Hash) UnmarshalText(text []byte) error {
	*h = HexToHash(string(text))
	return nil
}

func (h Hash) Value() (driver.Value, error) { return h.Bytes(), nil }

// Address represents the 20-byte hash-last-20 identifier derived from a
// secp256k1 public key.
type Address [AddressLength]byte

// BytesToAddress sets the address to the value of b, left-padding or
// truncating from the left as needed.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// HexToAddress parses a 0x-prefixed hex string into an Address.
func HexToAddress(s string) Address { return BytesToAddress(fromHex(s)) }

func (a Address) Bytes() []byte  { return a[:] }
func (a Address) Hex() string    { return "0x" + hex.EncodeToString(a[:]) }
func (a Address) String() string { return a.Hex() }
func (a Address) IsZero() bool   { return a == Address{} }

func (a Address) MarshalJSON() ([]byte, error) { return json.Marshal(a.Hex()) }

func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*a = HexToAddress(s)
	return nil
}

// MarshalText and UnmarshalText let Address serve as a JSON object key, as
// used by GenesisAlloc (encoding/json only accepts encoding.TextMarshaler
// map keys, not json.Marshaler ones).
func (a Address) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	*a = HexToAddress(string(text))
	return nil
}

func fromHex(s string) []byte {
	if len(s) >= 2 && (s[0:2] == "0x" || s[0:2] == "0X") {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// AddressesByHex sorts a slice of addresses by their canonical hex form,
// giving a deterministic tiebreak wherever two entries otherwise compare
// equal (reputation, stake, arrival order, ...).
type AddressesByHex []Address

func (a AddressesByHex) Len() int      { return len(a) }
func (a AddressesByHex) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a AddressesByHex) Less(i, j int) bool {
	return fmt.Sprintf("%x", a[i]) < fmt.Sprintf("%x", a[j])
}
