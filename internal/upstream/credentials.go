package upstream

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateUsername returns a fresh account name: a short site prefix plus an
// 8-digit zero-padded random suffix, matching the account pattern the
// upstream accepts. Collisions are not checked; a duplicate simply fails the
// savePlayer call.
func GenerateUsername() string {
	return fmt.Sprintf("pf_%08d", randInt(100000000))
}

// GeneratePassword returns length uniformly random alphanumeric characters.
// Non-positive lengths fall back to 10.
func GeneratePassword(length int) string {
	if length <= 0 {
		length = 10
	}
	b := make([]byte, length)
	for i := range b {
		b[i] = passwordAlphabet[randInt(len(passwordAlphabet))]
	}
	return string(b)
}

func randInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(fmt.Sprintf("random source unavailable: %v", err))
	}
	return int(v.Int64())
}
