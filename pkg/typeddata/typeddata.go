package typeddata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/recibo-network/recibo-go/pkg/types"
)

// Sentinel failures surfaced by the verifier. Callers match with errors.Is.
var (
	// ErrInvalidSignature means the signature over the typed-data digest does
	// not validate for the claimed signer.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrNonceMustBeMessageHash means an authorization-transfer nonce is not
	// the hash of the message fields it must be bound to.
	ErrNonceMustBeMessageHash = errors.New("nonce must be message hash")
)

// SignatureLength is the expected r||s||v signature length.
const SignatureLength = 65

var (
	domainTypeHash = crypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	// reciboTypeHash covers the record schema. Metadata and message are
	// dynamic, so their keccak256 hashes are encoded per EIP-712.
	reciboTypeHash = crypto.Keccak256(
		[]byte("Recibo(address messageFrom,address messageTo,string metadata,bytes message,uint256 nonce)"))
)

// Domain identifies one deployment of the service for signing purposes.
// Mixing it into every digest prevents a signature produced for one instance
// or chain from being replayed against another.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Separator computes the EIP-712 domain separator.
func (d Domain) Separator() [32]byte {
	encoded := make([]byte, 0, 160)
	encoded = append(encoded, domainTypeHash...)
	encoded = append(encoded, crypto.Keccak256([]byte(d.Name))...)
	encoded = append(encoded, crypto.Keccak256([]byte(d.Version))...)
	encoded = append(encoded, common.BigToHash(d.ChainID).Bytes()...)
	encoded = append(encoded, common.BytesToHash(d.VerifyingContract.Bytes()).Bytes()...)

	var sep [32]byte
	copy(sep[:], crypto.Keccak256(encoded))
	return sep
}

// StructHash computes the schema hash of a record with its nonce.
func StructHash(record *types.ReciboInfo) [32]byte {
	encoded := make([]byte, 0, 192)
	encoded = append(encoded, reciboTypeHash...)
	encoded = append(encoded, common.BytesToHash(record.MessageFrom.Bytes()).Bytes()...)
	encoded = append(encoded, common.BytesToHash(record.MessageTo.Bytes()).Bytes()...)
	encoded = append(encoded, crypto.Keccak256([]byte(record.Metadata))...)
	encoded = append(encoded, crypto.Keccak256(record.Message)...)
	encoded = append(encoded, record.Nonce[:]...)

	var h [32]byte
	copy(h[:], crypto.Keccak256(encoded))
	return h
}

// Digest combines the domain separator and struct hash into the final
// signable digest: keccak256(0x19 || 0x01 || separator || structHash).
func Digest(domain Domain, record *types.ReciboInfo) [32]byte {
	sep := domain.Separator()
	structHash := StructHash(record)

	encoded := make([]byte, 0, 66)
	encoded = append(encoded, 0x19, 0x01)
	encoded = append(encoded, sep[:]...)
	encoded = append(encoded, structHash[:]...)

	var digest [32]byte
	copy(digest[:], crypto.Keccak256(encoded))
	return digest
}

// ContractSigner validates signatures on behalf of principals that do not
// hold a raw key (programmatic accounts). Modeled on ERC-1271: the signer
// itself decides whether a signature over the digest is acceptable.
type ContractSigner interface {
	IsValidSignature(ctx context.Context, signer common.Address, digest [32]byte, signature []byte) (bool, error)
}

// Verifier checks record signatures against a fixed domain. It is a pure
// checker with no state of its own.
type Verifier struct {
	domain Domain

	// contractSigner is consulted when ECDSA recovery does not produce the
	// claimed signer. Nil disables the fallback.
	contractSigner ContractSigner
}

// NewVerifier creates a verifier for the given domain. contractSigner may be
// nil if only raw-key principals are expected.
func NewVerifier(domain Domain, contractSigner ContractSigner) *Verifier {
	return &Verifier{
		domain:         domain,
		contractSigner: contractSigner,
	}
}

// Domain returns the verifier's signing domain.
func (v *Verifier) Domain() Domain {
	return v.domain
}

// Verify checks that record.Signature is a valid signature by signer over the
// record's typed-data digest. No side effects; replay protection is the
// ledger's job.
func (v *Verifier) Verify(ctx context.Context, signer common.Address, record *types.ReciboInfo) error {
	if len(record.Signature) != SignatureLength {
		return fmt.Errorf("%w: expected %d-byte signature, got %d",
			ErrInvalidSignature, SignatureLength, len(record.Signature))
	}

	digest := Digest(v.domain, record)

	// Normalize the recovery byte: Ethereum tooling emits v as 27/28.
	sig := make([]byte, SignatureLength)
	copy(sig, record.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest[:], sig)
	if err == nil && crypto.PubkeyToAddress(*pubKey) == signer {
		return nil
	}

	if v.contractSigner != nil {
		ok, csErr := v.contractSigner.IsValidSignature(ctx, signer, digest, record.Signature)
		if csErr != nil {
			return fmt.Errorf("contract signature validation: %w", csErr)
		}
		if ok {
			return nil
		}
	}

	return fmt.Errorf("%w: signature does not validate for %s", ErrInvalidSignature, signer.Hex())
}

// MessageHashNonce derives the single-use token authorization nonce a bound
// transfer must carry: keccak256(messageFrom || messageTo || message).
// Deriving the nonce from the message fuses the token authorization and the
// memo into one unit that cannot be recombined.
func MessageHashNonce(messageFrom, messageTo common.Address, message []byte) [32]byte {
	encoded := make([]byte, 0, 40+len(message))
	encoded = append(encoded, messageFrom.Bytes()...)
	encoded = append(encoded, messageTo.Bytes()...)
	encoded = append(encoded, message...)

	var h [32]byte
	copy(h[:], crypto.Keccak256(encoded))
	return h
}

// ValidateBoundNonce enforces the binding invariant for authorization-style
// transfers: the claimed token nonce must equal the message hash.
func ValidateBoundNonce(record *types.ReciboInfo, claimedTokenNonce [32]byte) error {
	expected := MessageHashNonce(record.MessageFrom, record.MessageTo, record.Message)
	if !bytes.Equal(expected[:], claimedTokenNonce[:]) {
		return fmt.Errorf("%w: got %s, want %s", ErrNonceMustBeMessageHash,
			common.Hash(claimedTokenNonce).Hex(), common.Hash(expected).Hex())
	}
	return nil
}
