package account

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"go.dedis.ch/kyber/v4/suites"
	"go.dedis.ch/kyber/v4/util/random"
)

var ErrInvalidPrivateKey = errors.New("private key must be a non-negative integer")

var suite suites.Suite = suites.MustFind("Ed25519")

// keySpace is the exclusive upper bound of generated keys before the +1 shift.
var keySpace = new(big.Int).Lsh(big.NewInt(1), 256)

// PrivateKey is the secret half of an account: an arbitrarily large
// non-negative integer kept in canonical decimal form. Two keys match when
// their decimal forms are equal.
type PrivateKey string

// GeneratePrivateKey draws a uniformly random key in [1, 2^256].
func GeneratePrivateKey() PrivateKey {
	n := random.Int(keySpace, suite.RandomStream())
	n.Add(n, big.NewInt(1))
	return PrivateKey(n.String())
}

// ParsePrivateKey reads a decimal integer, tolerating leading zeros and a
// leading plus sign, and returns it in canonical form.
func ParsePrivateKey(s string) (PrivateKey, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPrivateKey, s)
	}
	return PrivateKey(n.String()), nil
}

func (k PrivateKey) String() string {
	return string(k)
}

// PublicKey derives the hex SHA-256 digest of the decimal key. It is the
// identifier accounts are registered under.
func (k PrivateKey) PublicKey() string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:])
}

// MarshalJSON writes the key as a bare JSON number.
func (k PrivateKey) MarshalJSON() ([]byte, error) {
	if _, err := ParsePrivateKey(string(k)); err != nil {
		return nil, err
	}
	return []byte(k), nil
}

// UnmarshalJSON accepts either a JSON number or a JSON string of digits.
func (k *PrivateKey) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	parsed, err := ParsePrivateKey(raw)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
