// Package flags defines the command-line flags of the ceremony coordinator
// binary.
package flags

import (
	"time"

	"github.com/urfave/cli/v2"
)

var (
	// DataDirFlag is the directory holding the coordinator's database.
	DataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the coordinator database",
		Value: "ceremonyd-data",
	}
	// VerbosityFlag selects the logging level.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info, warn, error, fatal, panic)",
		Value: "info",
	}
	// LogFormatFlag selects the log encoder.
	LogFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Specify log formatting. Supports: text, json, fluentd",
		Value: "text",
	}
	// LogFileFlag writes logs to a file in addition to stderr.
	LogFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Specify log file name, relative or absolute",
	}
	// ClearDBFlag wipes the database on startup.
	ClearDBFlag = &cli.BoolFlag{
		Name:  "clear-db",
		Usage: "Clears any previously stored data at the data directory",
	}
	// HTTPHostFlag is the API listen host.
	HTTPHostFlag = &cli.StringFlag{
		Name:  "http-host",
		Usage: "Host on which the ceremony API server listens",
		Value: "127.0.0.1",
	}
	// HTTPPortFlag is the API listen port.
	HTTPPortFlag = &cli.IntFlag{
		Name:  "http-port",
		Usage: "Port on which the ceremony API server listens",
		Value: 8000,
	}
	// MonitoringHostFlag is the metrics listen host.
	MonitoringHostFlag = &cli.StringFlag{
		Name:  "monitoring-host",
		Usage: "Host used for listening and responding to metrics requests",
		Value: "127.0.0.1",
	}
	// MonitoringPortFlag is the metrics listen port.
	MonitoringPortFlag = &cli.IntFlag{
		Name:  "monitoring-port",
		Usage: "Port used for listening and responding to metrics requests",
		Value: 8080,
	}
	// JWTSecretFlag is the HMAC secret validating API bearer tokens.
	JWTSecretFlag = &cli.StringFlag{
		Name:     "jwt-secret",
		Usage:    "Shared HMAC secret used to validate API bearer tokens",
		Required: true,
	}
	// BucketPostfixFlag is appended to every ceremony prefix to form its
	// bucket name.
	BucketPostfixFlag = &cli.StringFlag{
		Name:  "bucket-postfix",
		Usage: "Postfix appended to the ceremony prefix to form the bucket name",
		Value: "-ph2-ceremony",
	}
	// PresignTTLFlag bounds the lifetime of presigned storage URLs.
	PresignTTLFlag = &cli.DurationFlag{
		Name:  "presign-ttl",
		Usage: "Lifetime of presigned storage URLs handed to clients",
		Value: 15 * time.Minute,
	}
	// AWSRegionFlag selects the region for the blob store and workers.
	AWSRegionFlag = &cli.StringFlag{
		Name:  "aws-region",
		Usage: "AWS region hosting the ceremony buckets and verification workers",
		Value: "us-east-1",
	}
	// WorkerAmiFlag is the machine image for remote verification workers.
	WorkerAmiFlag = &cli.StringFlag{
		Name:  "worker-ami",
		Usage: "Machine image id used when provisioning remote verification workers",
	}
	// WorkerInstanceTypeFlag sizes remote verification workers.
	WorkerInstanceTypeFlag = &cli.StringFlag{
		Name:  "worker-instance-type",
		Usage: "Instance type used when provisioning remote verification workers",
		Value: "t3.large",
	}
	// CoordinatorTickFlag is the queue reconcile cadence.
	CoordinatorTickFlag = &cli.DurationFlag{
		Name:  "coordinator-tick",
		Usage: "Interval between waiting-queue reconcile passes",
		Value: 30 * time.Second,
	}
	// CeremonyTickFlag is the ceremony open/close sweep cadence.
	CeremonyTickFlag = &cli.DurationFlag{
		Name:  "ceremony-tick",
		Usage: "Interval between ceremony start/end date sweeps",
		Value: 10 * time.Minute,
	}
	// SnarkjsBinaryFlag locates the snarkjs executable for local
	// verification.
	SnarkjsBinaryFlag = &cli.StringFlag{
		Name:  "snarkjs-binary",
		Usage: "Path of the snarkjs executable used for local verification",
		Value: "snarkjs",
	}
	// SoftwareNameFlag is stamped into contribution records.
	SoftwareNameFlag = &cli.StringFlag{
		Name:  "verification-software-name",
		Usage: "Name of the verification software stamped into contribution records",
		Value: "snarkjs",
	}
	// SoftwareVersionFlag is stamped into contribution records.
	SoftwareVersionFlag = &cli.StringFlag{
		Name:  "verification-software-version",
		Usage: "Version of the verification software stamped into contribution records",
	}
	// SoftwareCommitFlag is stamped into contribution records.
	SoftwareCommitFlag = &cli.StringFlag{
		Name:  "verification-software-commit",
		Usage: "Commit hash of the verification software stamped into contribution records",
	}
)
