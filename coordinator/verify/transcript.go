package verify

import (
	"encoding/hex"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// validToken is the literal the verification tooling prints for a valid
// zkey. The transcript check depends on the exact spelling.
const validToken = "ZKey Ok!"

var (
	ansiRegexp = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
	hashRegexp = regexp.MustCompile(`[a-f0-9]{64}`)
)

// TranscriptValid reports whether the transcript attests a valid
// contribution.
func TranscriptValid(transcript string) bool {
	return strings.Contains(transcript, validToken)
}

// StripANSI removes terminal escape sequences from a transcript so the
// stored artifact is plain text.
func StripANSI(transcript string) string {
	return ansiRegexp.ReplaceAllString(transcript, "")
}

// ExtractZkeyHash returns the first 64-character hex digest found in the
// worker command output, or empty when none is present.
func ExtractZkeyHash(output string) string {
	return hashRegexp.FindString(strings.ToLower(output))
}

// Blake2b512File computes the hex-encoded blake2b-512 digest of a file.
func Blake2b512File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "could not open %s", path)
	}
	defer func() {
		_ = f.Close()
	}()
	h, err := blake2b.New512(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "could not hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
