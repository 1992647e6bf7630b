package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

var (
	eip712DomainTypeHash = ethcrypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId)"))
	ledgerCallTypeHash   = ethcrypto.Keccak256([]byte("LedgerCall(string function,bytes32 body,uint256 timestamp)"))
)

const (
	domainName    = "Polystakes"
	domainVersion = "1"
)

// ErrBadSignature is returned when a call signature cannot be decoded or
// recovered.
var ErrBadSignature = errors.New("crypto: bad signature")

// Signer signs ledger calls with a secp256k1 key. The principal of a signer
// is its checksummed hex address.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key. The
// chain ID separates signatures of different deployments.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: parse private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator(chainID),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Principal returns the ledger principal the signer acts as.
func (s *Signer) Principal() domain.Principal {
	return domain.Principal(s.address.Hex())
}

// SignCall signs the request body of a call to fn at the given Unix
// timestamp. The returned string is a 0x-prefixed 65-byte signature.
func (s *Signer) SignCall(fn domain.Function, body []byte, timestamp int64) (string, error) {
	digest := callDigest(s.domainSep, fn, body, timestamp)

	if timestamp < 0 {
		return "", fmt.Errorf("crypto/signer: negative timestamp %d", timestamp)
	}
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign %s: %w", fn, err)
	}
	// go-ethereum returns v in {0,1}; wallets emit {27,28}.
	sig[64] += 27

	return hexutil.Encode(sig), nil
}

// Verifier recovers the principal that signed a call.
type Verifier struct {
	domainSep []byte
}

// NewVerifier creates a Verifier for the given chain ID.
func NewVerifier(chainID int64) *Verifier {
	return &Verifier{domainSep: domainSeparator(chainID)}
}

// RecoverPrincipal returns the principal whose key produced sigHex over the
// call. It accepts v in either {0,1} or {27,28}.
func (v *Verifier) RecoverPrincipal(fn domain.Function, body []byte, timestamp int64, sigHex string) (domain.Principal, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != ethcrypto.SignatureLength || timestamp < 0 {
		return "", ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(callDigest(v.domainSep, fn, body, timestamp), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return domain.Principal(ethcrypto.PubkeyToAddress(*pub).Hex()), nil
}

// word encodes n as a 32-byte ABI uint256. Callers reject negative values.
func word(n int64) []byte {
	b := uint256.NewInt(uint64(n)).Bytes32()
	return b[:]
}

// domainSeparator is keccak256(typeHash || nameHash || versionHash || chainId).
func domainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(domainName)),
		ethcrypto.Keccak256([]byte(domainVersion)),
		word(chainID),
	)
}

// callDigest is keccak256(0x1901 || domainSeparator || hashStruct(LedgerCall)).
func callDigest(domainSep []byte, fn domain.Function, body []byte, timestamp int64) []byte {
	structHash := ethcrypto.Keccak256(
		ledgerCallTypeHash,
		ethcrypto.Keccak256([]byte(fn)),
		ethcrypto.Keccak256(body),
		word(timestamp),
	)
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}
