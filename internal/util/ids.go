package util

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

// roomCodeAlphabet leaves out 0/O and 1/I so codes survive being read aloud.
const roomCodeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// NewRoomCode returns a random room code of the given length, e.g. "R7K2".
func NewRoomCode(length int) string {
	code := make([]byte, length)
	max := big.NewInt(int64(len(roomCodeAlphabet)))
	for i := range code {
		n, _ := rand.Int(rand.Reader, max)
		code[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(code)
}

// NewIdentity returns a fresh participant identity. Identities only need to be
// unique within a room; a random UUID is more than enough.
func NewIdentity() string {
	return uuid.NewString()
}
