// Package auth provides concrete implementations for authentication-related domain services.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"
	"time"

	"orpheus/config"
	"orpheus/internal/domain/service"
	"orpheus/internal/errors"
	"orpheus/internal/infra/metrics"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

const argon2Algorithm = "argon2id"

var (
	errInvalidPHC          = errors.New("invalid argon2id hash format")
	errUnsupportedVersion  = errors.New("unsupported argon2 version")
	errInvalidHashParams   = errors.New("invalid argon2id parameters")
	errInvalidHashEncoding = errors.New("invalid argon2id encoding")
)

// phcEncoding is the unpadded standard base64 used by the PHC string format.
var phcEncoding = base64.RawStdEncoding

// argon2Hasher is a concrete implementation of the PasswordHasher interface using argon2id.
type argon2Hasher struct {
	params  config.Argon2Config
	pool    *semaphore.Weighted
	metrics *metrics.Metrics

	// dummyHash is verified by DummyCheck so a missing user costs a full verification.
	dummyHash string
}

type phcHash struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// NewArgon2Hasher is the constructor for argon2Hasher.
// It returns the implementation as a service.PasswordHasher interface.
// A nil metrics disables duration recording.
func NewArgon2Hasher(cfg *config.Config, m *metrics.Metrics) (service.PasswordHasher, error) {
	if cfg.Auth == nil {
		return nil, errors.New("auth config is required")
	}

	params := cfg.Auth.Argon2
	if params.Memory == 0 || params.Time == 0 || params.Parallelism == 0 ||
		params.SaltLength == 0 || params.KeyLength == 0 {
		return nil, errors.Wrapf(errInvalidHashParams, "%+v", params)
	}

	workers := cfg.Auth.HashWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	hasher := &argon2Hasher{
		params:  params,
		pool:    semaphore.NewWeighted(int64(workers)),
		metrics: m,
	}

	seed := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, errors.Wrap(err, "failed to seed dummy password")
	}
	dummyHash, err := hasher.hash(phcEncoding.EncodeToString(seed))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build dummy hash")
	}
	hasher.dummyHash = dummyHash

	return hasher, nil
}

// Hash generates a salted argon2id hash encoded as a PHC string.
func (h *argon2Hasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.pool.Acquire(ctx, 1); err != nil {
		return "", errors.Wrap(err, "waiting for hashing slot")
	}
	defer h.pool.Release(1)

	start := time.Now()
	defer func() { h.metrics.ObservePasswordHashing("hash", time.Since(start)) }()

	return h.hash(password)
}

// Check compares a plaintext password with an argon2id PHC string.
// Only failing to obtain a hashing slot is reported as an error.
func (h *argon2Hasher) Check(ctx context.Context, password, hash string) (bool, error) {
	if err := h.pool.Acquire(ctx, 1); err != nil {
		return false, errors.Wrap(err, "waiting for hashing slot")
	}
	defer h.pool.Release(1)

	start := time.Now()
	defer func() { h.metrics.ObservePasswordHashing("check", time.Since(start)) }()

	return verify(password, hash), nil
}

// DummyCheck runs one verification against the construction-time hash and discards the result.
func (h *argon2Hasher) DummyCheck(ctx context.Context, password string) error {
	_, err := h.Check(ctx, password, h.dummyHash)

	return err
}

func (h *argon2Hasher) hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", errors.Wrap(err, "failed to generate salt")
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		h.params.Time,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Algorithm,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		phcEncoding.EncodeToString(salt),
		phcEncoding.EncodeToString(key),
	), nil
}

func verify(password, encoded string) bool {
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false
	}

	computed := argon2.IDKey(
		[]byte(password),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		uint32(len(parsed.key)),
	)

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1
}

// parsePHC decodes $argon2id$v=19$m=<KiB>,t=<iters>,p=<lanes>$<salt>$<key>.
func parsePHC(encoded string) (*phcHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != argon2Algorithm {
		return nil, errInvalidPHC
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return nil, errInvalidPHC
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return nil, errUnsupportedVersion
	}

	parsed := &phcHash{}
	if err := parsed.parseParams(parts[3]); err != nil {
		return nil, err
	}

	salt, err := phcEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return nil, errInvalidHashEncoding
	}
	key, err := phcEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return nil, errInvalidHashEncoding
	}
	parsed.salt = salt
	parsed.key = key

	return parsed, nil
}

func (p *phcHash) parseParams(part string) error {
	var seen int
	for pair := range strings.SplitSeq(part, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return errInvalidHashParams
		}

		switch name {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v == 0 {
				return errInvalidHashParams
			}
			p.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v == 0 {
				return errInvalidHashParams
			}
			p.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v == 0 {
				return errInvalidHashParams
			}
			p.parallelism = uint8(v)
		default:
			return errInvalidHashParams
		}
		seen++
	}

	if seen != 3 || p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return errInvalidHashParams
	}

	return nil
}
