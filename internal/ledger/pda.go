package ledger

import (
	"encoding/binary"
)

// PDA seeds, fixed by the ledger program.
const (
	seedGlobalState = "global_state"
	seedRound       = "round"
	seedVault       = "vault"
	seedPrediction  = "prediction"
	seedUserStats   = "user_stats"
)

func le64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// Addresses derives all program accounts for a given program id. The
// derivation is pure; any two processes derive identical addresses.
type Addresses struct {
	ProgramID PublicKey
}

func (a Addresses) GlobalState() (PublicKey, uint8, error) {
	return FindProgramAddress([][]byte{[]byte(seedGlobalState)}, a.ProgramID)
}

func (a Addresses) Round(roundID uint64) (PublicKey, uint8, error) {
	return FindProgramAddress([][]byte{[]byte(seedRound), le64(roundID)}, a.ProgramID)
}

func (a Addresses) Vault(roundID uint64) (PublicKey, uint8, error) {
	return FindProgramAddress([][]byte{[]byte(seedVault), le64(roundID)}, a.ProgramID)
}

func (a Addresses) Prediction(roundID uint64, user PublicKey) (PublicKey, uint8, error) {
	return FindProgramAddress([][]byte{[]byte(seedPrediction), le64(roundID), user[:]}, a.ProgramID)
}

func (a Addresses) UserStats(user PublicKey) (PublicKey, uint8, error) {
	return FindProgramAddress([][]byte{[]byte(seedUserStats), user[:]}, a.ProgramID)
}
