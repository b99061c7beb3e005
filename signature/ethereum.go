package signature

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"

	"ballot-backend/models"
)

const FormatEIP191 = "eip191"

// EthereumVerifier checks personal_sign (EIP-191) signatures locally by
// recovering the signer's public key. It needs no oracle round trip.
type EthereumVerifier struct{}

// NewEthereumVerifier creates a new EIP-191 verifier.
func NewEthereumVerifier() *EthereumVerifier {
	return &EthereumVerifier{}
}

func (ev *EthereumVerifier) Verify(_ context.Context, vote models.Vote) (bool, error) {
	if !common.IsHexAddress(vote.Addr) {
		return false, nil
	}
	msg, err := signedBytes(vote)
	if err != nil {
		return false, nil
	}
	sig, err := DecodeHex(vote.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return false, nil
	}

	// Wallets emit V as 27/28; recovery wants 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(PersonalMessageHash(msg), sig)
	if err != nil {
		return false, nil
	}
	signer := crypto.PubkeyToAddress(*pub)
	return signer == common.HexToAddress(vote.Addr), nil
}

func signedBytes(vote models.Vote) ([]byte, error) {
	msg, err := DecodeHex(vote.Msg)
	if err != nil {
		return nil, err
	}
	if vote.Random == "" {
		return msg, nil
	}
	salt, err := DecodeHex(vote.Random)
	if err != nil {
		return nil, err
	}
	return append(salt, msg...), nil
}

// CanonicalAddress returns the EIP-55 checksum form of a hex account address,
// with or without 0x, so every spelling of one key names the same ballot.
// Other addresses are returned unchanged.
func CanonicalAddress(addr string) string {
	if !common.IsHexAddress(addr) {
		return addr
	}
	return common.HexToAddress(addr).Hex()
}

// PersonalMessageHash is Keccak-256 over the EIP-191 version 0x45 envelope.
func PersonalMessageHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return Keccak256([]byte(prefix), msg)
}

// Keccak256 hashes the concatenation of data.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// DecodeHex decodes base16 with or without a 0x prefix.
func DecodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}
