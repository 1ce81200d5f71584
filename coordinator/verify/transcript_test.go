package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptValid(t *testing.T) {
	assert.Equal(t, true, TranscriptValid("[INFO]  snarkJS: ZKey Ok!"))
	assert.Equal(t, false, TranscriptValid("[ERROR] snarkJS: ZKey ERROR"))
	// The check is exact, including capitalization.
	assert.Equal(t, false, TranscriptValid("zkey ok!"))
}

func TestStripANSI(t *testing.T) {
	in := "\x1b[32m[INFO]\x1b[0m  snarkJS: \x1b[1mZKey Ok!\x1b[22m"
	assert.Equal(t, "[INFO]  snarkJS: ZKey Ok!", StripANSI(in))
	assert.Equal(t, "plain text", StripANSI("plain text"))
}

func TestExtractZkeyHash(t *testing.T) {
	hash := "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"
	out := "Circuit Hash:\n\t\t" + hash + "\nDone."
	assert.Equal(t, hash, ExtractZkeyHash(out))
	// Uppercase digests from the tooling are normalized first.
	assert.Equal(t, hash, ExtractZkeyHash("HASH: ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789"))
	assert.Equal(t, "", ExtractZkeyHash("no digest here"))
}

func TestBlake2b512File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.log")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0600))
	digest, err := Blake2b512File(path)
	require.NoError(t, err)
	// blake2b-512("hello")
	assert.Equal(t,
		"e4cfa39a3d37be31c59609e807970799caa68a19bfaa15135f165085e01d41a65ba1e1b146aeb6bd0092b49eac214c103ccfa3a365954bbbe52f74a2b3620c94",
		digest)

	_, err = Blake2b512File(filepath.Join(t.TempDir(), "missing"))
	require.NotNil(t, err)
}
