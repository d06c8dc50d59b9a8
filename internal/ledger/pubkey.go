package ledger

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PublicKey is a 32-byte ledger account address.
type PublicKey [32]byte

var SystemProgramID = PublicKey{}

var ErrInvalidSeeds = errors.New("ledger: derived address falls on the curve")

func PublicKeyFromBase58(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("decode pubkey: %w", err)
	}
	if len(raw) != len(pk) {
		return pk, fmt.Errorf("pubkey must be %d bytes, got %d", len(pk), len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

func MustPublicKeyFromBase58(s string) PublicKey {
	pk, err := PublicKeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

func (pk PublicKey) Bytes() []byte {
	return pk[:]
}

func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

func (pk PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.String())
}

func (pk *PublicKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := PublicKeyFromBase58(s)
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// isOnCurve reports whether b decompresses to a valid edwards25519 point.
// Program-derived addresses must not have a corresponding private key, so
// derivation rejects on-curve candidates.
func isOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress derives an address from seeds and a program id.
// The derivation is the standard one: sha256(seeds || program_id ||
// "ProgramDerivedAddress"), rejected if the digest is a curve point.
func CreateProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, error) {
	if len(seeds) > 16 {
		return PublicKey{}, errors.New("ledger: too many seeds")
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > 32 {
			return PublicKey{}, errors.New("ledger: seed longer than 32 bytes")
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte("ProgramDerivedAddress"))
	digest := h.Sum(nil)
	if isOnCurve(digest) {
		return PublicKey{}, ErrInvalidSeeds
	}
	var pk PublicKey
	copy(pk[:], digest)
	return pk, nil
}

// FindProgramAddress searches bump seeds from 255 downward for the first
// off-curve address. Deterministic: the same inputs always yield the same
// (address, bump) pair.
func FindProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		addr, err := CreateProgramAddress(append(seeds, []byte{byte(bump)}), programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrInvalidSeeds) {
			return PublicKey{}, 0, err
		}
	}
	return PublicKey{}, 0, errors.New("ledger: no viable bump seed")
}
