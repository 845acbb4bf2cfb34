// Package crypto provides EIP-712 hashing, signing and signature recovery
// for Duration.Finance commitments, plus encrypted key management.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/duration-fi/durationd/internal/domain"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// Changing field order or types here invalidates every outstanding signed
// commitment for a deployment.
// --------------------------------------------------------------------------

const (
	eip712DomainTypeString = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"

	// commitmentTypeString declares the signed fields with the widths the
	// Go model carries; external signing tools must use it verbatim.
	commitmentTypeString = "Commitment(address creator,address asset,uint256 amount,uint256 dailyPremiumRate,uint256 premiumOffered,uint256 targetPrice,uint32 minLockDays,uint32 maxDurationDays,uint8 optionType,uint8 commitmentType,uint256 expiry,uint256 nonce)"
)

var (
	eip712DomainTypeHash = ethcrypto.Keccak256([]byte(eip712DomainTypeString))
	commitmentTypeHash   = ethcrypto.Keccak256([]byte(commitmentTypeString))
)

// Domain identifies the protocol deployment a commitment is bound to.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

// Separator returns keccak256(abi.encode(typeHash, nameHash, versionHash,
// chainId, verifyingContract)).
func (d Domain) Separator() []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(d.Name)),
			ethcrypto.Keccak256([]byte(d.Version)),
			bigIntTo32Bytes(big.NewInt(d.ChainID)),
			common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
		),
	)
}

// CommitmentHash returns the EIP-712 struct hash of c. It is deterministic:
// identical commitments always hash identically, which is what makes the
// hash usable as the commitment id.
func CommitmentHash(c domain.Commitment) common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(
		concatBytes(
			commitmentTypeHash,
			common.LeftPadBytes(c.Creator.Bytes(), 32),
			common.LeftPadBytes(c.Asset.Bytes(), 32),
			bigIntTo32Bytes(c.Amount),
			bigIntTo32Bytes(c.DailyPremiumRate),
			bigIntTo32Bytes(c.PremiumOffered),
			bigIntTo32Bytes(c.TargetPrice),
			bigIntTo32Bytes(big.NewInt(int64(c.MinLockDays))),
			bigIntTo32Bytes(big.NewInt(int64(c.MaxDurationDays))),
			bigIntTo32Bytes(big.NewInt(int64(c.OptionType))),
			bigIntTo32Bytes(big.NewInt(int64(c.CommitmentType))),
			bigIntTo32Bytes(big.NewInt(c.Expiry)),
			bigIntTo32Bytes(new(big.Int).SetUint64(c.Nonce)),
		),
	))
}

// Digest computes the final EIP-712 signing digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func Digest(d Domain, c domain.Commitment) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			d.Separator(),
			CommitmentHash(c).Bytes(),
		),
	)
}

// Verify recovers the signer of c.Signature over the commitment digest and
// checks it equals the declared creator. It has no side effects and returns
// domain.ErrInvalidSignature for malformed or mismatched signatures.
func Verify(d Domain, c domain.Commitment) (common.Address, error) {
	sig, err := decodeSignature(c.Signature)
	if err != nil {
		return common.Address{}, err
	}

	pub, err := ethcrypto.SigToPub(Digest(d, c), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover: %w", domain.ErrInvalidSignature)
	}

	signer := ethcrypto.PubkeyToAddress(*pub)
	if signer != c.Creator {
		return common.Address{}, fmt.Errorf("crypto: signer %s != creator %s: %w",
			signer.Hex(), c.Creator.Hex(), domain.ErrInvalidSignature)
	}
	return signer, nil
}

// decodeSignature parses a 0x-prefixed 65-byte hex signature and normalizes
// the recovery byte from {27,28} to {0,1} as go-ethereum expects.
func decodeSignature(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: signature hex: %w", domain.ErrInvalidSignature)
	}
	if len(raw) != 65 {
		return nil, fmt.Errorf("crypto: signature length %d: %w", len(raw), domain.ErrInvalidSignature)
	}
	sig := make([]byte, 65)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return nil, fmt.Errorf("crypto: recovery byte %d: %w", sig[64], domain.ErrInvalidSignature)
	}
	return sig, nil
}

// Signer signs commitments for one private key. It is used by off-chain
// tooling (and tests); the engine itself only verifies.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	dom        Domain
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key bound
// to the given protocol domain.
func NewSigner(privateKeyHex string, dom Domain) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		dom:        dom,
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignCommitment signs the EIP-712 digest of c and returns a hex-encoded
// 65-byte signature (r || s || v, v in {27,28}).
func (s *Signer) SignCommitment(c domain.Commitment) (string, error) {
	sig, err := ethcrypto.Sign(Digest(s.dom, c), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; signed commitments carry v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
// A nil value encodes as zero, matching an absent uint256 field.
func bigIntTo32Bytes(n *big.Int) []byte {
	if n == nil {
		return make([]byte, 32)
	}
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
