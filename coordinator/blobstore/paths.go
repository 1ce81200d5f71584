package blobstore

import "fmt"

// Storage path conventions. These are bit-stable; client tooling and the
// remote verification workers derive the same paths independently.

// BucketName forms the ceremony bucket name from its prefix and the
// configured postfix.
func BucketName(ceremonyPrefix, postfix string) string {
	return ceremonyPrefix + postfix
}

// ZkeyPath locates a contribution proving key within the ceremony bucket.
func ZkeyPath(circuitPrefix, zkeyIndex string) string {
	return fmt.Sprintf("circuits/%s/contributions/%s_%s.zkey", circuitPrefix, circuitPrefix, zkeyIndex)
}

// InitialZkeyPath locates the genesis proving key of a circuit.
func InitialZkeyPath(circuitPrefix string) string {
	return ZkeyPath(circuitPrefix, "00000")
}

// TranscriptPath locates a verification transcript within the ceremony
// bucket. The identifier distinguishes contributors with the same index
// across retries.
func TranscriptPath(circuitPrefix, zkeyIndex, identifier string) string {
	return fmt.Sprintf(
		"circuits/%s/transcripts/%s_%s_%s_verification_transcript.log",
		circuitPrefix, circuitPrefix, zkeyIndex, identifier,
	)
}

// PotPath locates the powers-of-tau file referenced by a circuit.
func PotPath(potFilename string) string {
	return fmt.Sprintf("pot/%s", potFilename)
}

// BootstrapScriptPath locates the startup script a remote verification
// worker runs on provisioning.
func BootstrapScriptPath(circuitName, bootstrapFilename string) string {
	return fmt.Sprintf("circuits/%s/%s", circuitName, bootstrapFilename)
}
