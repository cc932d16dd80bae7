package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3/log"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

func TestEntrySignature(t *testing.T) {
	kp := key.NewKeyPair(cothority.Suite)
	sig, err := SignEntry(kp.Private, kp.Public, 10, 3, 1)
	require.NoError(t, err)
	require.NoError(t, VerifyEntry(kp.Public, 10, 3, 1, sig))

	// bound to the amount, the round, the nonce and the key
	require.Error(t, VerifyEntry(kp.Public, 11, 3, 1, sig))
	require.Error(t, VerifyEntry(kp.Public, 10, 4, 1, sig))
	require.Error(t, VerifyEntry(kp.Public, 10, 3, 2, sig))
	other := key.NewKeyPair(cothority.Suite)
	require.Error(t, VerifyEntry(other.Public, 10, 3, 1, sig))
	require.Error(t, VerifyEntry(nil, 10, 3, 1, sig))
}

func TestFundSignature(t *testing.T) {
	minter := key.NewKeyPair(cothority.Suite)
	sig, err := SignFund(minter.Private, minter.Public, "alice", 100, 7)
	require.NoError(t, err)
	require.NoError(t, VerifyFund(minter.Public, "alice", 100, 7, sig))

	require.Error(t, VerifyFund(minter.Public, "bob", 100, 7, sig))
	require.Error(t, VerifyFund(minter.Public, "alice", 101, 7, sig))
	require.Error(t, VerifyFund(minter.Public, "alice", 100, 8, sig))
	other := key.NewKeyPair(cothority.Suite)
	require.Error(t, VerifyFund(other.Public, "alice", 100, 7, sig))
	require.Error(t, VerifyFund(nil, "alice", 100, 7, sig))

	// an entry signature is not a fund signature
	entry, err := SignEntry(minter.Private, minter.Public, 100, 7, 0)
	require.NoError(t, err)
	require.Error(t, VerifyFund(minter.Public, "", 100, 7, entry))
}

func TestKeyPairFile(t *testing.T) {
	kp := key.NewKeyPair(cothority.Suite)
	path := filepath.Join(t.TempDir(), "key.txt")
	require.NoError(t, WriteKeyPair(path, kp))
	got, err := ReadKeyPair(path)
	require.NoError(t, err)
	require.True(t, kp.Public.Equal(got.Public))
	require.True(t, kp.Private.Equal(got.Private))

	pub, err := ParsePublic(kp.Public.String())
	require.NoError(t, err)
	require.True(t, kp.Public.Equal(pub))
}
