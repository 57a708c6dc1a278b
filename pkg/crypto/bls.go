package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Layr-Labs/eigensdk-go/crypto/bls"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/crypto"
)

// Serialized point sizes for BN254 (uncompressed affine coordinates)
const (
	SignatureLength = 64  // G1 point: x || y, 32 bytes each
	PublicKeyLength = 128 // G2 point: x.a0 || x.a1 || y.a0 || y.a1
)

// SigningPreimage builds the canonical byte string operators attest to.
//
// Format: serviceId (8 bytes BE) || callId (8 bytes BE) || keccak256(output)
func SigningPreimage(serviceID, callID uint64, output []byte) []byte {
	outputHash := crypto.Keccak256(output)
	preimage := make([]byte, 0, 8+8+32)
	preimage = binary.BigEndian.AppendUint64(preimage, serviceID)
	preimage = binary.BigEndian.AppendUint64(preimage, callID)
	preimage = append(preimage, outputHash...)
	return preimage
}

// SigningMessage returns the 32-byte digest that is actually signed:
// keccak256 of the signing preimage. BN254 signing operates on a fixed
// 32-byte message, so the variable-length preimage is hashed once more.
func SigningMessage(serviceID, callID uint64, output []byte) [32]byte {
	var message [32]byte
	copy(message[:], crypto.Keccak256(SigningPreimage(serviceID, callID, output)))
	return message
}

// ParseSignature decodes a hex-encoded uncompressed G1 signature
func ParseSignature(data string) (*bls.Signature, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature hex: %w", err)
	}
	if len(raw) != SignatureLength {
		return nil, fmt.Errorf("invalid signature length: got %d, want %d", len(raw), SignatureLength)
	}
	point := bls.NewZeroG1Point().Deserialize(raw)
	return &bls.Signature{G1Point: point}, nil
}

// EncodeSignature hex-encodes an uncompressed G1 signature
func EncodeSignature(sig *bls.Signature) string {
	return "0x" + hex.EncodeToString(sig.Serialize())
}

// ParsePublicKey decodes a hex-encoded uncompressed G2 public key
func ParsePublicKey(data string) (*bls.G2Point, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key hex: %w", err)
	}
	if len(raw) != PublicKeyLength {
		return nil, fmt.Errorf("invalid public key length: got %d, want %d", len(raw), PublicKeyLength)
	}
	return bls.NewZeroG2Point().Deserialize(raw), nil
}

// EncodePublicKey hex-encodes an uncompressed G2 public key
func EncodePublicKey(pubKey *bls.G2Point) string {
	return "0x" + hex.EncodeToString(pubKey.Serialize())
}

// VerifySignature checks a single G1 signature against a G2 public key
func VerifySignature(pubKey *bls.G2Point, message [32]byte, sig *bls.Signature) (bool, error) {
	return sig.Verify(pubKey, message)
}

// AggregateSignatures sums the given G1 signatures into one aggregate
// signature. The inputs are not modified.
func AggregateSignatures(signatures []*bls.Signature) (*bls.Signature, error) {
	if len(signatures) == 0 {
		return nil, fmt.Errorf("no signatures to aggregate")
	}
	agg := &bls.Signature{G1Point: bls.NewZeroG1Point()}
	for _, sig := range signatures {
		agg.Add(sig)
	}
	return agg, nil
}

// AggregatePublicKeys sums the given G2 public keys into the aggregate
// public key matching an aggregated signature.
func AggregatePublicKeys(pubKeys []*bls.G2Point) (*bls.G2Point, error) {
	if len(pubKeys) == 0 {
		return nil, fmt.Errorf("no public keys to aggregate")
	}
	agg := bls.NewZeroG2Point()
	for _, pubKey := range pubKeys {
		agg.Add(pubKey)
	}
	return agg, nil
}

// NewKeyPairFromSeed derives a deterministic BLS keypair from a seed string.
// The seed is hashed with SHA-256 and reduced into an Fr element.
func NewKeyPairFromSeed(seed string) *bls.KeyPair {
	hasher := sha256.New()
	hasher.Write([]byte(seed))

	skElement := new(fr.Element)
	skElement.SetBytes(hasher.Sum(nil))

	return bls.NewKeyPair(skElement)
}
