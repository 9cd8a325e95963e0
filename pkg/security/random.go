package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	digitCharset         = "0123456789"
	disambiguatorCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// RandomDigits returns n random decimal digits, e.g. for delivery codes.
func RandomDigits(n int) (string, error) {
	return randomString(digitCharset, n)
}

// RandomToken returns n characters from an unambiguous upper-case alphabet.
func RandomToken(n int) (string, error) {
	return randomString(disambiguatorCharset, n)
}

func randomString(charset string, n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	max := big.NewInt(int64(len(charset)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		out[i] = charset[idx.Int64()]
	}
	return string(out), nil
}
