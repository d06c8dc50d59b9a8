package ledger

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// AccountMeta describes one account an instruction touches.
type AccountMeta struct {
	PubKey     PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single program invocation before compilation.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// Signer holds the fee payer keypair.
type Signer struct {
	priv ed25519.PrivateKey
	pub  PublicKey
}

// SignerFromBase58 parses a base58-encoded 64-byte ed25519 keypair
// (seed followed by public key), the format wallet tooling exports.
func SignerFromBase58(encoded string) (*Signer, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode keypair: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	var pub PublicKey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return &Signer{priv: priv, pub: pub}, nil
}

func (s *Signer) PublicKey() PublicKey {
	return s.pub
}

func (s *Signer) Sign(message []byte) []byte {
	return ed25519.Sign(s.priv, message)
}

// shortvec is the compact-u16 length prefix used by the wire format.
func shortvec(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

type compiledAccount struct {
	key      PublicKey
	signer   bool
	writable bool
}

// compileAccounts flattens instruction account metas into the ordered
// message account list: writable signers first (fee payer leading), then
// readonly signers, writable non-signers, and readonly non-signers.
// Duplicate keys merge with privileges OR-ed together.
func compileAccounts(feePayer PublicKey, instrs []Instruction) []compiledAccount {
	index := map[PublicKey]*compiledAccount{}
	order := []PublicKey{}

	upsert := func(key PublicKey, signer, writable bool) {
		if acc, ok := index[key]; ok {
			acc.signer = acc.signer || signer
			acc.writable = acc.writable || writable
			return
		}
		index[key] = &compiledAccount{key: key, signer: signer, writable: writable}
		order = append(order, key)
	}

	upsert(feePayer, true, true)
	for _, in := range instrs {
		for _, meta := range in.Accounts {
			upsert(meta.PubKey, meta.IsSigner, meta.IsWritable)
		}
		upsert(in.ProgramID, false, false)
	}

	var sorted []compiledAccount
	appendClass := func(signer, writable bool) {
		for _, key := range order {
			acc := index[key]
			if acc.signer == signer && acc.writable == writable {
				sorted = append(sorted, *acc)
			}
		}
	}
	appendClass(true, true)
	appendClass(true, false)
	appendClass(false, true)
	appendClass(false, false)
	return sorted
}

// BuildTransaction compiles, serializes, and signs a legacy transaction,
// returning the raw wire bytes ready for base64 submission.
func BuildTransaction(instrs []Instruction, recentBlockhash string, signers []*Signer) ([]byte, error) {
	if len(signers) == 0 {
		return nil, errors.New("ledger: transaction needs at least one signer")
	}
	blockhash, err := base58.Decode(recentBlockhash)
	if err != nil {
		return nil, fmt.Errorf("decode blockhash: %w", err)
	}
	if len(blockhash) != 32 {
		return nil, fmt.Errorf("blockhash must be 32 bytes, got %d", len(blockhash))
	}

	feePayer := signers[0].PublicKey()
	accounts := compileAccounts(feePayer, instrs)

	indexOf := map[PublicKey]int{}
	for i, acc := range accounts {
		indexOf[acc.key] = i
	}

	var numSigners, numReadonlySigners, numReadonlyUnsigned int
	for _, acc := range accounts {
		if acc.signer {
			numSigners++
			if !acc.writable {
				numReadonlySigners++
			}
		} else if !acc.writable {
			numReadonlyUnsigned++
		}
	}

	var msg bytes.Buffer
	msg.WriteByte(byte(numSigners))
	msg.WriteByte(byte(numReadonlySigners))
	msg.WriteByte(byte(numReadonlyUnsigned))
	shortvec(&msg, len(accounts))
	for _, acc := range accounts {
		msg.Write(acc.key[:])
	}
	msg.Write(blockhash)
	shortvec(&msg, len(instrs))
	for _, in := range instrs {
		progIdx, ok := indexOf[in.ProgramID]
		if !ok {
			return nil, fmt.Errorf("program %s missing from account list", in.ProgramID)
		}
		msg.WriteByte(byte(progIdx))
		shortvec(&msg, len(in.Accounts))
		for _, meta := range in.Accounts {
			idx, ok := indexOf[meta.PubKey]
			if !ok {
				return nil, fmt.Errorf("account %s missing from account list", meta.PubKey)
			}
			msg.WriteByte(byte(idx))
		}
		shortvec(&msg, len(in.Data))
		msg.Write(in.Data)
	}

	message := msg.Bytes()
	signatures := make([][]byte, numSigners)
	for i := range signatures {
		signatures[i] = make([]byte, ed25519.SignatureSize)
	}
	for _, s := range signers {
		idx, ok := indexOf[s.PublicKey()]
		if !ok || idx >= numSigners {
			return nil, fmt.Errorf("signer %s not required by message", s.PublicKey())
		}
		signatures[idx] = s.Sign(message)
	}

	var tx bytes.Buffer
	shortvec(&tx, len(signatures))
	for _, sig := range signatures {
		tx.Write(sig)
	}
	tx.Write(message)
	return tx.Bytes(), nil
}
