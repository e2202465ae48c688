package models

import (
	"crypto/rand"
	"math/big"
)

// KeyAlphabet excludes characters that are easily confused (0, 1, O).
const KeyAlphabet = "23456789ABCDEFGHIJKLMNPQRSTUVWXYZ"

// KeyLength is the fixed length of object keys.
const KeyLength = 8

// GenerateKey returns a random object key.
func GenerateKey() string {
	buf := make([]byte, KeyLength)
	max := big.NewInt(int64(len(KeyAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		buf[i] = KeyAlphabet[n.Int64()]
	}
	return string(buf)
}

// ValidKey reports whether key has the object key shape.
func ValidKey(key string) bool {
	if len(key) != KeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if !keyChar(key[i]) {
			return false
		}
	}
	return true
}

func keyChar(c byte) bool {
	for i := 0; i < len(KeyAlphabet); i++ {
		if KeyAlphabet[i] == c {
			return true
		}
	}
	return false
}
