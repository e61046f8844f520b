package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const argon2ID = "argon2id"

// HasherParams are the argon2id cost parameters used for new digests
type HasherParams struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultHasherParams matches the digests already stored by the service
var DefaultHasherParams = HasherParams{
	Memory:      64 * 1024,
	Time:        3,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

// Hasher hashes and verifies passwords. Verify accepts legacy bcrypt digests.
type Hasher struct {
	params HasherParams
}

// NewHasher creates a hasher with the given parameters
func NewHasher(params HasherParams) *Hasher {
	return &Hasher{params: params}
}

type phcDigest struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// Hash returns a PHC-encoded argon2id digest with a random salt
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2ID,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches digest. Malformed digests never match.
func (h *Hasher) Verify(password, digest string) bool {
	if isBcrypt(digest) {
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
	}

	d, err := parsePHC(digest)
	if err != nil {
		return false
	}
	key := argon2.IDKey([]byte(password), d.salt, d.time, d.memory, d.parallelism, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(key, d.key) == 1
}

// NeedsRehash reports whether digest should be replaced by a fresh Hash:
// legacy bcrypt, or argon2id weaker than the current parameters.
func (h *Hasher) NeedsRehash(digest string) bool {
	if isBcrypt(digest) {
		return true
	}
	d, err := parsePHC(digest)
	if err != nil {
		return false
	}
	return d.memory < h.params.Memory ||
		d.time < h.params.Time ||
		d.parallelism < h.params.Parallelism ||
		uint32(len(d.key)) != h.params.KeyLength
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

func parsePHC(digest string) (*phcDigest, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != argon2ID {
		return nil, errors.New("unsupported algorithm")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	d := &phcDigest{}
	for _, kv := range strings.Split(parts[3], ",") {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, errors.New("invalid argon2 parameters")
		}
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, errors.New("invalid argon2 parameters")
		}
		switch name {
		case "m":
			d.memory = uint32(n)
		case "t":
			d.time = uint32(n)
		case "p":
			if n > 255 {
				return nil, errors.New("invalid argon2 parallelism")
			}
			d.parallelism = uint8(n)
		default:
			return nil, errors.New("unknown argon2 parameter")
		}
	}
	if d.memory == 0 || d.time == 0 || d.parallelism == 0 {
		return nil, errors.New("missing argon2 parameters")
	}

	if d.salt, err = decodePHCBase64(parts[4]); err != nil || len(d.salt) == 0 {
		return nil, errors.New("invalid salt encoding")
	}
	if d.key, err = decodePHCBase64(parts[5]); err != nil || len(d.key) == 0 {
		return nil, errors.New("invalid hash encoding")
	}
	return d, nil
}

// PHC strings are unpadded, but accept padded input too.
func decodePHCBase64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
