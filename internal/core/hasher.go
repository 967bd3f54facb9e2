package core

import (
	"crypto/sha256"
	"encoding/binary"
)

// GenesisHashSeed anchors the chain. Changing it invalidates every stored log.
const GenesisHashSeed = "LevFarm:genesis:v1"

// StateHasher links each operation to the one before it:
//
//	hash[n] = sha256(hash[n-1] || le64(n) || digest[n])
type StateHasher struct {
	tip [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: sha256.Sum256([]byte(GenesisHashSeed))}
}

// ComputeHash advances the chain by one operation and returns the new tip.
func (h *StateHasher) ComputeHash(sequence int64, digest []byte) [32]byte {
	buf := make([]byte, 0, len(h.tip)+8+len(digest))
	buf = append(buf, h.tip[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(sequence))
	buf = append(buf, digest...)
	h.tip = sha256.Sum256(buf)
	return h.tip
}

func (h *StateHasher) GetPrevHash() [32]byte { return h.tip }

// SetPrevHash moves the tip when restoring from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) { h.tip = hash }
