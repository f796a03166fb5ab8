package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "OptionSettle:genesis:v1"

// GenesisHash is the chain tip before the first command.
var GenesisHash = sha256.Sum256([]byte(GenesisHashSeed))

// StateHasher chains one hash per applied command:
//
//	hash[n] = SHA-256(hash[n-1] ‖ n ‖ type ‖ key ‖ digest)
//
// type and key are length-prefixed, so two commands with identical effects
// still produce distinct links.
type StateHasher struct {
	tip   [32]byte
	links int64
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: GenesisHash}
}

// Next extends the chain with the command applied at sequence and returns
// the new tip.
func (h *StateHasher) Next(sequence int64, commandType, key string, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.tip[:])

	var word [8]byte
	binary.BigEndian.PutUint64(word[:], uint64(sequence))
	hasher.Write(word[:])

	for _, field := range []string{commandType, key} {
		binary.BigEndian.PutUint64(word[:], uint64(len(field)))
		hasher.Write(word[:])
		hasher.Write([]byte(field))
	}
	hasher.Write(stateDigest)

	copy(h.tip[:], hasher.Sum(nil))
	h.links++
	return h.tip
}

// Tip returns the hash of the last applied command, GenesisHash before any.
func (h *StateHasher) Tip() [32]byte {
	return h.tip
}

// Links counts the commands chained so far.
func (h *StateHasher) Links() int64 {
	return h.links
}
