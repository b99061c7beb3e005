package signature

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballot-backend/models"
)

func signedVote(t *testing.T, random, msg string) models.Vote {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	payload, err := DecodeHex(random + msg)
	require.NoError(t, err)
	sig, err := crypto.Sign(PersonalMessageHash(payload), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27

	return models.Vote{
		Addr:          crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Msg:           msg,
		Random:        random,
		Signature:     "0x" + hex.EncodeToString(sig),
		SigFormat:     FormatEIP191,
		CandidateSlug: "alice",
		CategorySlug:  "2024",
	}
}

func TestEthereumVerifier(t *testing.T) {
	ev := NewEthereumVerifier()
	ctx := context.Background()

	vote := signedVote(t, "0102", "deadbeef")
	ok, err := ev.Verify(ctx, vote)
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("salt is part of the signed payload", func(t *testing.T) {
		tampered := vote
		tampered.Random = "0103"
		ok, err := ev.Verify(ctx, tampered)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("other signer", func(t *testing.T) {
		other := vote
		other.Addr = "0x000000000000000000000000000000000000dEaD"
		ok, err := ev.Verify(ctx, other)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("lowercase address", func(t *testing.T) {
		lower := vote
		lower.Addr = strings.ToLower(vote.Addr)
		ok, err := ev.Verify(ctx, lower)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("malformed input is invalid, not an error", func(t *testing.T) {
		for _, mutate := range []func(v *models.Vote){
			func(v *models.Vote) { v.Signature = "zz" },
			func(v *models.Vote) { v.Signature = "0xdead" },
			func(v *models.Vote) { v.Msg = "abc" },
			func(v *models.Vote) { v.Addr = "A1" },
		} {
			bad := vote
			mutate(&bad)
			ok, err := ev.Verify(ctx, bad)
			require.NoError(t, err)
			assert.False(t, ok)
		}
	})
}

func TestKeccakMatchesGoEthereum(t *testing.T) {
	data := []byte("ballot")
	assert.Equal(t, crypto.Keccak256(data), Keccak256(data))
}

func TestDecodeHex(t *testing.T) {
	b, err := DecodeHex("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)

	b, err = DecodeHex("0xDEAD")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, b)

	_, err = DecodeHex("abc")
	assert.Error(t, err)
	_, err = DecodeHex("xyz0")
	assert.Error(t, err)
}

func TestCanonicalAddress(t *testing.T) {
	checksum := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	lower := strings.ToLower(checksum)

	assert.Equal(t, checksum, CanonicalAddress(checksum))
	assert.Equal(t, checksum, CanonicalAddress(lower))
	assert.Equal(t, checksum, CanonicalAddress(strings.TrimPrefix(lower, "0x")))
	assert.Equal(t, "A1", CanonicalAddress("A1"))
	assert.Equal(t, "9fRAWhdxEsTcdb8PhGNrZfwqa65zfkuYHAMmkQLcic1gdLSV5vA", CanonicalAddress("9fRAWhdxEsTcdb8PhGNrZfwqa65zfkuYHAMmkQLcic1gdLSV5vA"))
}
