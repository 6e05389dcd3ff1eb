package services

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const (
	pollIDCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	pollIDLength  = 6
)

// NewPollID returns a short human-shareable poll code, 6 uppercase
// alphanumerics from a cryptographically random source.
func NewPollID() string {
	code := make([]byte, pollIDLength)
	max := big.NewInt(int64(len(pollIDCharset)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing means the process has bigger problems
			panic(err)
		}
		code[i] = pollIDCharset[n.Int64()]
	}
	return string(code)
}

func NewParticipantID() string {
	return uuid.NewString()
}

func NewNominationID() string {
	return uuid.NewString()
}
