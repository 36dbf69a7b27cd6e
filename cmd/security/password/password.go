package password

import (
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Hash validates password against the policy and returns a salted hash
// in the configured algorithm family.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	switch c.Algorithm {
	case AlgorithmArgon2id:
		return c.hashArgon2id(password)
	default:
		return c.hashBcrypt(password)
	}
}

// Verify checks whether password matches the given encoded hash.
// Returns (true, nil) for a match, (false, nil) for mismatch,
// and (false, ErrInvalidHash) for malformed/unsupported hashes.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	switch {
	case isBcryptHash(encodedHash):
		return c.verifyBcrypt(encodedHash, password)
	case strings.HasPrefix(encodedHash, argon2idPrefix):
		return c.verifyArgon2id(encodedHash, password)
	default:
		return false, ErrInvalidHash
	}
}

// DummyVerify spends the same work as a real Verify against a hash of the
// configured family. Login paths call it for unknown accounts.
func (c Config) DummyVerify(password string) {
	h, err := c.dummyHash()
	if err != nil {
		return
	}
	_, _ = c.Verify(h, password)
}

func (c Config) hashBcrypt(password string) (string, error) {
	if len(password) > bcryptMaxBytes {
		return "", ErrPasswordTooLong
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), c.bcryptCost())
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", err
	}
	return string(b), nil
}

func (c Config) verifyBcrypt(encodedHash, password string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return false, ErrInvalidHash
	}
	// Refuse work factors far above the configured one.
	if cost > c.bcryptCost()+2 && cost > DefaultBcryptCost+2 {
		return false, ErrInvalidHash
	}
	if len(password) > bcryptMaxBytes {
		return false, nil
	}

	err = bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrInvalidHash
	}
}

func (c Config) bcryptCost() int {
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return DefaultBcryptCost
	}
	return c.BcryptCost
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// dummy hashes are computed once per (algorithm, cost) and reused.
var dummyHashes sync.Map

type dummyKey struct {
	algo   Algorithm
	cost   int
	params Argon2idParams
}

func (c Config) dummyHash() (string, error) {
	k := dummyKey{algo: c.Algorithm, cost: c.bcryptCost()}
	if c.Algorithm == AlgorithmArgon2id {
		k.params = c.Params
	}
	if v, ok := dummyHashes.Load(k); ok {
		return v.(string), nil
	}

	var (
		h   string
		err error
	)
	const filler = "dummy-password-for-timing-only"
	if c.Algorithm == AlgorithmArgon2id {
		h, err = c.hashArgon2id(filler)
	} else {
		h, err = c.hashBcrypt(filler)
	}
	if err != nil {
		return "", err
	}
	v, _ := dummyHashes.LoadOrStore(k, h)
	return v.(string), nil
}
