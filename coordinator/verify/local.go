package verify

import "context"

// LocalVerifier checks a contribution in-process from downloaded artifacts.
// Implementations are side-effect-free on storage.
type LocalVerifier interface {
	// Verify checks lastZkeyPath against the powers-of-tau file and the
	// circuit's genesis zkey. It returns whether the contribution is valid,
	// the verification transcript text and the hash of the candidate zkey.
	Verify(ctx context.Context, potPath, initialZkeyPath, lastZkeyPath string) (valid bool, transcript string, lastZkeyHash string, err error)
}
