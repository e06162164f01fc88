package swarmcrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsKeys(t *testing.T) {
	a, err := Canonicalize(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	b, err := Canonicalize(map[string]any{"a": 2, "b": 1})
	require.NoError(t, err)
	require.Equal(t, string(a), string(b))
	require.Equal(t, `{"a":2,"b":1}`, string(a))
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair("agent-1")
	require.NoError(t, err)

	signed, err := SignRecord(kp, map[string]any{"thread_id": "t1", "lamport": float64(3)})
	require.NoError(t, err)

	ok, err := VerifyRecord(signed)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyFailsOnMutation(t *testing.T) {
	kp, err := GenerateKeyPair("agent-1")
	require.NoError(t, err)

	signed, err := SignRecord(kp, map[string]any{"thread_id": "t1", "lamport": float64(3)})
	require.NoError(t, err)

	signed["lamport"] = float64(4)
	ok, err := VerifyRecord(signed)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKeyPairPersistence(t *testing.T) {
	dir := t.TempDir()
	kp, err := GenerateKeyPair("agent-2")
	require.NoError(t, err)
	require.NoError(t, kp.Save(dir))

	loaded, err := LoadKeyPair(dir, "agent-2")
	require.NoError(t, err)
	require.Equal(t, kp.Public, loaded.Public)
	require.Equal(t, kp.Private, loaded.Private)
}

func TestLoadOrGenerateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	first, err := LoadOrGenerate(dir, "agent-3")
	require.NoError(t, err)
	second, err := LoadOrGenerate(dir, "agent-3")
	require.NoError(t, err)
	require.Equal(t, first.Public, second.Public)
}

func TestAddressRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair("agent-4")
	require.NoError(t, err)
	addr := AddressFromPublicKey(AccountPrefix, kp.Public)

	decoded, err := DecodeAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, addr.Bytes(), decoded.Bytes())
	require.Equal(t, AccountPrefix, decoded.Prefix())
}
