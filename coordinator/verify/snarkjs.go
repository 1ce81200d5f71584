package verify

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/pkg/errors"
)

var _ LocalVerifier = (*SnarkjsVerifier)(nil)

// SnarkjsVerifier checks contributions by shelling out to the snarkjs CLI,
// the same tool contributors and remote workers run. The command output is
// the verification transcript.
type SnarkjsVerifier struct {
	// Binary is the snarkjs executable, looked up on PATH when relative.
	Binary string
}

// NewSnarkjsVerifier returns a verifier using the given snarkjs binary, or
// "snarkjs" when empty.
func NewSnarkjsVerifier(binary string) *SnarkjsVerifier {
	if binary == "" {
		binary = "snarkjs"
	}
	return &SnarkjsVerifier{Binary: binary}
}

// Verify runs `snarkjs zkey verify` against the downloaded artifacts. A
// non-zero exit with transcript output means an invalid contribution, not an
// error.
func (v *SnarkjsVerifier) Verify(ctx context.Context, potPath, initialZkeyPath, lastZkeyPath string) (bool, string, string, error) {
	cmd := exec.CommandContext(ctx, v.Binary, "zkey", "verify", initialZkeyPath, potPath, lastZkeyPath)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	transcript := out.String()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && transcript != "" {
			return false, transcript, "", nil
		}
		return false, "", "", errors.Wrap(err, "could not run snarkjs")
	}
	if !TranscriptValid(transcript) {
		return false, transcript, "", nil
	}
	return true, transcript, ExtractZkeyHash(StripANSI(transcript)), nil
}
