package util

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

// RandomString generates a secure random string of the specified byte length.
func RandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NumericCode generates a human-shareable code of n decimal digits,
// zero-padded. Used for game lookup codes.
func NumericCode(n int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < n; i++ {
		max.Mul(max, big.NewInt(10))
	}
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", n, v), nil
}
