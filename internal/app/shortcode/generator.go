// Package shortcode mints random base62 codes for short links.
package shortcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Alphabet is the case-sensitive base62 character set codes are drawn from.
const Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// DefaultLength gives 62^7 (about 3.5e12) possible codes.
const DefaultLength = 7

var alphabetSize = big.NewInt(int64(len(Alphabet)))

// Generator creates candidate short codes. Uniqueness is enforced by the store, not here.
type Generator interface {
	Generate() (string, error)
}

// RandomGenerator draws every character independently from crypto/rand,
// so issued codes reveal nothing about other codes.
type RandomGenerator struct {
	length int
}

// NewRandomGenerator returns a generator for codes of the given length.
func NewRandomGenerator(length int) *RandomGenerator {
	if length < 1 {
		length = DefaultLength
	}
	return &RandomGenerator{length: length}
}

func (g *RandomGenerator) Generate() (string, error) {
	code := make([]byte, g.length)
	for i := range code {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("shortcode: read entropy: %w", err)
		}
		code[i] = Alphabet[n.Int64()]
	}
	return string(code), nil
}

// Length returns the configured code length.
func (g *RandomGenerator) Length() int {
	return g.length
}
