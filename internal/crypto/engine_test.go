package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-shared-secret"

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(testSecret)
	require.NoError(t, err)
	return engine
}

func TestNewEngineEmptySecret(t *testing.T) {
	_, err := NewEngine("")
	assert.Error(t, err)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	// Two independent processes with the same secret must derive the same
	// key, which is the whole point of the fixed salt.
	k1 := DeriveKey(testSecret)
	k2 := DeriveKey(testSecret)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)

	assert.NotEqual(t, k1, DeriveKey("a-different-secret"))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	engine := newTestEngine(t)

	plaintexts := [][]byte{
		[]byte(`{"employee_id":"EMP-1042","email":"jdoe@example.com"}`),
		[]byte("short"),
		[]byte(strings.Repeat("long payload ", 1024)),
		{0x00, 0xff, 0x10, 0x80}, // binary data must survive the encoding
	}

	for _, plaintext := range plaintexts {
		envelope, err := engine.Encrypt(plaintext)
		require.NoError(t, err)

		recovered, err := engine.Decrypt(envelope)
		require.NoError(t, err)
		assert.Equal(t, plaintext, recovered)
	}
}

func TestEncryptProducesUniqueEnvelopes(t *testing.T) {
	engine := newTestEngine(t)

	e1, err := engine.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)
	e2, err := engine.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)

	// Random nonce per envelope.
	assert.NotEqual(t, e1, e2)
}

func TestDecryptRejectsTamperedEnvelope(t *testing.T) {
	engine := newTestEngine(t)

	envelope, err := engine.Encrypt([]byte("confidential payload"))
	require.NoError(t, err)

	raw, err := Encoding.DecodeString(envelope)
	require.NoError(t, err)

	// Flip one byte anywhere in the sealed data.
	for _, idx := range []int{0, nonceSize, len(raw) - 1} {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[idx] ^= 0x01

		_, err := engine.Decrypt(Encoding.EncodeToString(mutated))
		assert.ErrorIs(t, err, ErrDecryption, "byte %d", idx)
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	engine := newTestEngine(t)
	other, err := NewEngine("some-other-secret")
	require.NoError(t, err)

	envelope, err := engine.Encrypt([]byte("payload"))
	require.NoError(t, err)

	_, err = other.Decrypt(envelope)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	engine := newTestEngine(t)

	for _, envelope := range []string{
		"",
		"not base64 at all!!!",
		Encoding.EncodeToString([]byte("tiny")), // shorter than a nonce
	} {
		_, err := engine.Decrypt(envelope)
		assert.ErrorIs(t, err, ErrDecryption, "envelope %q", envelope)
	}
}

func TestChecksum(t *testing.T) {
	// Fixed vector: sha256("hello").
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		Checksum([]byte("hello")))

	assert.True(t, VerifyChecksum([]byte("hello"), Checksum([]byte("hello"))))
	assert.False(t, VerifyChecksum([]byte("hello"), Checksum([]byte("world"))))
}

func TestDecryptAndVerify(t *testing.T) {
	engine := newTestEngine(t)
	plaintext := []byte(`{"employee_id":"EMP-7"}`)

	envelope, err := engine.Encrypt(plaintext)
	require.NoError(t, err)

	recovered, ok, err := engine.DecryptAndVerify(envelope, Checksum(plaintext))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, plaintext, recovered)
}

func TestDecryptAndVerifySkipsEmptyChecksum(t *testing.T) {
	engine := newTestEngine(t)
	plaintext := []byte("no checksum supplied")

	envelope, err := engine.Encrypt(plaintext)
	require.NoError(t, err)

	recovered, ok, err := engine.DecryptAndVerify(envelope, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, plaintext, recovered)
}

func TestDecryptAndVerifyChecksumMismatch(t *testing.T) {
	engine := newTestEngine(t)

	envelope, err := engine.Encrypt([]byte("payload"))
	require.NoError(t, err)

	// An altered checksum is an integrity verdict, not an error.
	recovered, ok, err := engine.DecryptAndVerify(envelope, Checksum([]byte("something else")))
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, recovered)
}

func TestDecryptAndVerifyPropagatesDecryptError(t *testing.T) {
	engine := newTestEngine(t)

	_, ok, err := engine.DecryptAndVerify("%%%not-an-envelope%%%", Checksum([]byte("x")))
	assert.ErrorIs(t, err, ErrDecryption)
	assert.False(t, ok)
}

func TestValidateEnvelope(t *testing.T) {
	engine := newTestEngine(t)

	envelope, err := engine.Encrypt([]byte("payload"))
	require.NoError(t, err)
	assert.True(t, ValidateEnvelope(envelope))

	assert.False(t, ValidateEnvelope(""))
	assert.False(t, ValidateEnvelope("!!! definitely not base64 !!!"))
	assert.False(t, ValidateEnvelope(Encoding.EncodeToString([]byte("tiny"))))
}
