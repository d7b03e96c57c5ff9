// Package securefile locates per-profile files and reads/writes password-encrypted JSON.
// Uses Argon2id for KDF and XChaCha20-Poly1305 for AEAD.
package securefile

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nfps-dev/nfp-bootloader/internal/constants"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// EnvVar selects the profile folder: local/, develop/ or none (production).
const EnvVar = "NFP_ENV"

var (
	// ErrInvalidPasswordOrCorrupt is returned when decryption fails.
	ErrInvalidPasswordOrCorrupt = errors.New("invalid password or corrupted file")

	ErrEmptyPassword = errors.New("password must not be empty")
)

// Envelope is the on-disk form of an encrypted file.
type Envelope struct {
	Version int `json:"version"`

	ArgonTime    uint32 `json:"argon_time"`
	ArgonMemory  uint32 `json:"argon_memory_kib"`
	ArgonThreads uint8  `json:"argon_threads"`
	ArgonKeyLen  uint32 `json:"argon_key_len"`

	SaltB64  string `json:"salt_b64"`
	NonceB64 string `json:"nonce_b64"`
	CTB64    string `json:"ct_b64"`
}

// Params are the KDF settings used for new files. Tests lower ArgonMemory.
type Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	AAD     []byte
}

var DefaultParams = Params{
	Time:    2,
	Memory:  64 * 1024,
	Threads: 1,
	KeyLen:  32,
	AAD:     []byte(constants.BackupAAD),
}

// WriteEncryptedJSON marshals v, encrypts it under password and writes it atomically to path.
func WriteEncryptedJSON[T any](path string, v T, password []byte, p Params) error {
	if len(password) == 0 {
		return ErrEmptyPassword
	}
	if err := os.MkdirAll(filepath.Dir(path), constants.DirectoryPerm); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}

	plain, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("rand salt: %w", err)
	}

	aead, err := chacha20poly1305.NewX(argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, p.KeyLen))
	if err != nil {
		return fmt.Errorf("aead: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("rand nonce: %w", err)
	}

	env := Envelope{
		Version:      1,
		ArgonTime:    p.Time,
		ArgonMemory:  p.Memory,
		ArgonThreads: p.Threads,
		ArgonKeyLen:  p.KeyLen,
		SaltB64:      base64.StdEncoding.EncodeToString(salt),
		NonceB64:     base64.StdEncoding.EncodeToString(nonce),
		CTB64:        base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, plain, p.AAD)),
	}

	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return atomicWriteFile(path, b, constants.FilePerm)
}

// ReadEncryptedJSON reads path, decrypts it using password and unmarshals the JSON into T.
// The KDF settings come from the envelope; only the AAD is taken from p.
func ReadEncryptedJSON[T any](path string, password []byte, p Params) (T, error) {
	var zero T

	b, err := os.ReadFile(path)
	if err != nil {
		return zero, fmt.Errorf("read file: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return zero, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Version != 1 {
		return zero, fmt.Errorf("unsupported file version: %d", env.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(env.SaltB64)
	if err != nil {
		return zero, fmt.Errorf("decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.NonceB64)
	if err != nil {
		return zero, fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(env.CTB64)
	if err != nil {
		return zero, fmt.Errorf("decode ciphertext: %w", err)
	}

	key := argon2.IDKey(password, salt, env.ArgonTime, env.ArgonMemory, env.ArgonThreads, env.ArgonKeyLen)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return zero, fmt.Errorf("aead: %w", err)
	}

	plain, err := aead.Open(nil, nonce, ct, p.AAD)
	if err != nil {
		return zero, ErrInvalidPasswordOrCorrupt
	}

	var out T
	if err := json.Unmarshal(plain, &out); err != nil {
		return zero, fmt.Errorf("unmarshal json: %w", err)
	}
	return out, nil
}

// PathCandidates returns the locations to try for filename, in priority order.
// NFP_ENV adds a local/ or develop/ subfolder.
func PathCandidates(app, filename string) ([]string, error) {
	if app == "" {
		return nil, errors.New("app must not be empty")
	}
	if filename == "" {
		return nil, errors.New("filename must not be empty")
	}

	envFolder, err := EnvFolder()
	if err != nil {
		return nil, err
	}

	var paths []string
	seen := map[string]bool{}
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		paths = append(paths, p)
	}

	homeStyle := func(home string) string {
		dir := filepath.Join(home, ".config", app)
		if envFolder != "" {
			dir = filepath.Join(dir, envFolder)
		}
		return filepath.Join(dir, filename)
	}

	if realHome := os.Getenv("SNAP_REAL_HOME"); realHome != "" {
		add(homeStyle(realHome))
	}
	if home := os.Getenv("HOME"); home != "" {
		add(homeStyle(home))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		base := filepath.Join(dir, app)
		if envFolder != "" {
			base = filepath.Join(base, envFolder)
		}
		add(filepath.Join(base, filename))
	} else if len(paths) == 0 {
		return nil, fmt.Errorf("UserConfigDir: %w", err)
	}

	return paths, nil
}

// EnvFolder maps NFP_ENV to its profile subfolder.
func EnvFolder() (string, error) {
	raw := strings.TrimSpace(os.Getenv(EnvVar))
	switch strings.ToLower(raw) {
	case "", "prod", "production":
		return "", nil
	case "local":
		return "local", nil
	case "dev", "develop", "development":
		return "develop", nil
	default:
		return "", fmt.Errorf("invalid %s %q (allowed: local, develop, prod)", EnvVar, raw)
	}
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
