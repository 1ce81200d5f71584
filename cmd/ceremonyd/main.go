// Package main launches the coordination server for zero-knowledge
// trusted-setup ceremonies: it schedules contributors through per-circuit
// waiting queues, orchestrates contribution verification and walks
// ceremonies through their lifecycle.
package main

import (
	"fmt"
	"io"
	"os"
	goruntime "runtime"

	joonix "github.com/joonix/log"
	"github.com/pkg/errors"
	"github.com/privacy-scaling-explorations/p0tion-sub001/cmd/ceremonyd/flags"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/node"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var log = logrus.WithField("prefix", "main")

var appFlags = []cli.Flag{
	flags.DataDirFlag,
	flags.VerbosityFlag,
	flags.LogFormatFlag,
	flags.LogFileFlag,
	flags.ClearDBFlag,
	flags.HTTPHostFlag,
	flags.HTTPPortFlag,
	flags.MonitoringHostFlag,
	flags.MonitoringPortFlag,
	flags.JWTSecretFlag,
	flags.BucketPostfixFlag,
	flags.PresignTTLFlag,
	flags.AWSRegionFlag,
	flags.WorkerAmiFlag,
	flags.WorkerInstanceTypeFlag,
	flags.CoordinatorTickFlag,
	flags.CeremonyTickFlag,
	flags.SnarkjsBinaryFlag,
	flags.SoftwareNameFlag,
	flags.SoftwareVersionFlag,
	flags.SoftwareCommitFlag,
}

func startNode(cliCtx *cli.Context) error {
	level, err := logrus.ParseLevel(cliCtx.String(flags.VerbosityFlag.Name))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	ceremonyNode, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	ceremonyNode.Start()
	return nil
}

func configurePersistentLogging(logFileName string) error {
	f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return errors.Wrap(err, "could not open log file")
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, f))
	log.WithField("file", logFileName).Info("File logging initialized")
	return nil
}

func main() {
	app := cli.App{}
	app.Name = "ceremonyd"
	app.Usage = usage
	app.Flags = appFlags
	app.Action = startNode
	app.Before = func(ctx *cli.Context) error {
		switch format := ctx.String(flags.LogFormatFlag.Name); format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			// If persistent log files are written - we disable the log messages coloring because
			// the colors are ANSI codes and seen as Gibberish in the log files.
			formatter.DisableColors = ctx.String(flags.LogFileFlag.Name) != ""
			logrus.SetFormatter(formatter)
		case "fluentd":
			logrus.SetFormatter(joonix.NewFormatter())
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %s", format)
		}

		if logFileName := ctx.String(flags.LogFileFlag.Name); logFileName != "" {
			if err := configurePersistentLogging(logFileName); err != nil {
				log.WithError(err).Error("Failed to configure logging to disk.")
			}
		}

		goruntime.GOMAXPROCS(goruntime.NumCPU())
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
