// Package crypto holds the key material of ledger principals: encrypted key
// files, typed-data call signatures and HMAC-signed webhooks.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32

	// keyFileV1 files carry no principal. keyFileV2 files record it in the
	// clear and bind it to the ciphertext as associated data.
	keyFileV1 = 1
	keyFileV2 = 2
)

// keyFile is the on-disk layout. Binary fields are standard base64.
type keyFile struct {
	Version    int              `json:"version"`
	Principal  domain.Principal `json:"principal,omitempty"`
	Salt       string           `json:"salt"`
	Nonce      string           `json:"nonce"`
	Ciphertext string           `json:"ciphertext"`
}

// KeyConfig mirrors the [signer] config section.
type KeyConfig struct {
	// RawPrivateKey is hex, with or without 0x. It wins over a key file.
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

func passwordAEAD(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}

func parsePrivateKey(keyHex string) ([]byte, domain.Principal, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, "", fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, "", fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(raw))
	}
	pk, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, "", fmt.Errorf("crypto: invalid secp256k1 key: %w", err)
	}
	return raw, domain.Principal(ethcrypto.PubkeyToAddress(pk.PublicKey).Hex()), nil
}

// EncryptKey seals a hex private key under password (PBKDF2-SHA256 then
// AES-256-GCM) and returns the JSON key file.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	raw, principal, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := passwordAEAD(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	enc := base64.StdEncoding
	return json.MarshalIndent(keyFile{
		Version:    keyFileV2,
		Principal:  principal,
		Salt:       enc.EncodeToString(salt),
		Nonce:      enc.EncodeToString(nonce),
		Ciphertext: enc.EncodeToString(gcm.Seal(nil, nonce, raw, []byte(principal))),
	}, "", "  ")
}

func readKeyFile(data []byte) (keyFile, error) {
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return kf, fmt.Errorf("crypto: parse key file: %w", err)
	}
	switch kf.Version {
	case keyFileV1:
	case keyFileV2:
		if kf.Principal == "" {
			return kf, errors.New("crypto: key file has no principal")
		}
	default:
		return kf, fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	return kf, nil
}

// KeyFilePrincipal reads the principal a key file controls without the
// password. Version 1 files do not record it.
func KeyFilePrincipal(data []byte) (domain.Principal, error) {
	kf, err := readKeyFile(data)
	if err != nil {
		return "", err
	}
	if kf.Principal == "" {
		return "", errors.New("crypto: key file predates principal recording; decrypt it instead")
	}
	return kf.Principal, nil
}

// DecryptKey opens a key file and returns the private key as hex without 0x.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	kf, err := readKeyFile(data)
	if err != nil {
		return "", err
	}

	enc := base64.StdEncoding
	salt, err := enc.DecodeString(kf.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decode salt: %w", err)
	}
	nonce, err := enc.DecodeString(kf.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decode nonce: %w", err)
	}
	sealed, err := enc.DecodeString(kf.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decode ciphertext: %w", err)
	}

	gcm, err := passwordAEAD(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce is %d bytes, want %d", len(nonce), gcm.NonceSize())
	}
	var aad []byte
	if kf.Version == keyFileV2 {
		aad = []byte(kf.Principal)
	}
	plain, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password or altered file): %w", err)
	}
	return hex.EncodeToString(plain), nil
}

// LoadKey resolves the private key: RawPrivateKey first, then the encrypted
// key file.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		if _, _, err := parsePrivateKey(cfg.RawPrivateKey); err != nil {
			return "", err
		}
		return strings.TrimPrefix(cfg.RawPrivateKey, "0x"), nil
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	default:
		return "", errors.New("crypto: no signer key configured (set private_key or encrypted_key_path)")
	}
}

// GenerateKey creates a fresh secp256k1 key, returned as hex without 0x
// together with its principal.
func GenerateKey() (string, domain.Principal, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", "", fmt.Errorf("crypto: generate key: %w", err)
	}
	addr := ethcrypto.PubkeyToAddress(pk.PublicKey)
	return hex.EncodeToString(ethcrypto.FromECDSA(pk)), domain.Principal(addr.Hex()), nil
}

func LoadSigner(cfg KeyConfig, chainID int64) (*Signer, error) {
	key, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewSigner(key, chainID)
}
