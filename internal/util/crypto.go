package util

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrSignatureMismatch  = errors.New("signature mismatch")
)

// GenerateNumericCode returns a uniformly random decimal string of the given length.
func GenerateNumericCode(length int) (string, error) {
	var sb strings.Builder
	sb.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}
	return sb.String(), nil
}

func HmacSHA256(secret, data string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func HashOTP(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckOTPHash(code, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(code))
	return err == nil
}

// VerifyRazorpaySignature checks the hex HMAC-SHA256 of the raw body.
func VerifyRazorpaySignature(signature string, payload []byte, secret string) error {
	if signature == "" {
		return ErrMalformedSignature
	}
	if !ConstantTimeEqual(HmacSHA256(secret, string(payload)), signature) {
		return ErrSignatureMismatch
	}
	return nil
}

func MaskCode(code string) string {
	if len(code) <= 2 {
		return "****"
	}
	return code[:2] + "****"
}
