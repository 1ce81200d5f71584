// Package node wires the ceremony coordinator's services together and
// handles the lifecycle of the entire system through a service registry.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"
	"github.com/privacy-scaling-explorations/p0tion-sub001/cmd/ceremonyd/flags"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/blobstore"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/lifecycle"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/rpc"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/scheduler"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/upload"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/verify"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/worker"
	"github.com/privacy-scaling-explorations/p0tion-sub001/monitoring/prometheus"
	"github.com/privacy-scaling-explorations/p0tion-sub001/runtime"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var log = logrus.WithField("prefix", "node")

// CeremonyNode runs the coordination services for trusted-setup ceremonies.
// It handles the lifecycle of the entire system and registers services to a
// service registry.
type CeremonyNode struct {
	cliCtx    *cli.Context
	ctx       context.Context
	cancel    context.CancelFunc
	lock      sync.RWMutex
	services  *runtime.ServiceRegistry
	stop      chan struct{} // Channel to wait for termination notifications.
	db        db.Database
	nudgeFeed *event.Feed
}

// New creates a new node instance, sets up configuration options, and
// registers every required service.
func New(cliCtx *cli.Context) (*CeremonyNode, error) {
	ctx, cancel := context.WithCancel(cliCtx.Context)
	node := &CeremonyNode{
		cliCtx:    cliCtx,
		ctx:       ctx,
		cancel:    cancel,
		services:  runtime.NewServiceRegistry(),
		stop:      make(chan struct{}),
		nudgeFeed: new(event.Feed),
	}
	if err := node.startDB(); err != nil {
		cancel()
		return nil, err
	}
	if err := node.registerServices(); err != nil {
		cancel()
		return nil, err
	}
	return node, nil
}

func (n *CeremonyNode) startDB() error {
	dataDir := n.cliCtx.String(flags.DataDirFlag.Name)
	d, err := db.NewDB(n.ctx, dataDir)
	if err != nil {
		return errors.Wrap(err, "could not open database")
	}
	if n.cliCtx.Bool(flags.ClearDBFlag.Name) {
		log.Warn("Clearing coordinator database")
		if err := d.Close(); err != nil {
			return errors.Wrap(err, "could not close database")
		}
		if err := d.ClearDB(); err != nil {
			return errors.Wrap(err, "could not clear database")
		}
		d, err = db.NewDB(n.ctx, dataDir)
		if err != nil {
			return errors.Wrap(err, "could not reopen database")
		}
	}
	log.WithField("path", d.DatabasePath()).Info("Opened coordinator database")
	n.db = d
	return nil
}

func (n *CeremonyNode) registerServices() error {
	cliCtx := n.cliCtx
	region := cliCtx.String(flags.AWSRegionFlag.Name)

	blobs, err := blobstore.NewS3Store(n.ctx, region)
	if err != nil {
		return errors.Wrap(err, "could not set up blob store")
	}
	ec2Worker, err := worker.NewEC2Worker(n.ctx, worker.EC2Config{
		Region:       region,
		AmiID:        cliCtx.String(flags.WorkerAmiFlag.Name),
		InstanceType: cliCtx.String(flags.WorkerInstanceTypeFlag.Name),
	})
	if err != nil {
		return errors.Wrap(err, "could not set up verification workers")
	}
	software := types.VerificationSoftware{
		Name:       cliCtx.String(flags.SoftwareNameFlag.Name),
		Version:    cliCtx.String(flags.SoftwareVersionFlag.Name),
		CommitHash: cliCtx.String(flags.SoftwareCommitFlag.Name),
	}
	bucketPostfix := cliCtx.String(flags.BucketPostfixFlag.Name)
	presignTTL := cliCtx.Duration(flags.PresignTTLFlag.Name)

	verifier := verify.New(&verify.Config{
		Database:      n.db,
		Blobs:         blobs,
		Local:         verify.NewSnarkjsVerifier(cliCtx.String(flags.SnarkjsBinaryFlag.Name)),
		Worker:        ec2Worker,
		NudgeFeed:     n.nudgeFeed,
		Software:      software,
		BucketPostfix: bucketPostfix,
	})
	uploads := upload.New(&upload.Config{
		Database:      n.db,
		Blobs:         blobs,
		PresignTTL:    presignTTL,
		BucketPostfix: bucketPostfix,
	})
	schedulerSvc := scheduler.New(n.ctx, &scheduler.Config{
		Database:          n.db,
		NudgeFeed:         n.nudgeFeed,
		ReconcileInterval: cliCtx.Duration(flags.CoordinatorTickFlag.Name),
	})
	if err := n.services.RegisterService(schedulerSvc); err != nil {
		return err
	}
	lifecycleSvc := lifecycle.New(n.ctx, &lifecycle.Config{
		Database:      n.db,
		Worker:        ec2Worker,
		SweepInterval: cliCtx.Duration(flags.CeremonyTickFlag.Name),
	})
	if err := n.services.RegisterService(lifecycleSvc); err != nil {
		return err
	}
	rpcSvc := rpc.NewService(n.ctx, &rpc.Config{
		Host:          cliCtx.String(flags.HTTPHostFlag.Name),
		Port:          cliCtx.Int(flags.HTTPPortFlag.Name),
		JWTSecret:     []byte(cliCtx.String(flags.JWTSecretFlag.Name)),
		Database:      n.db,
		Blobs:         blobs,
		Worker:        ec2Worker,
		Verifier:      verifier,
		Lifecycle:     lifecycleSvc,
		Uploads:       uploads,
		Scheduler:     schedulerSvc,
		NudgeFeed:     n.nudgeFeed,
		PresignTTL:    presignTTL,
		BucketPostfix: bucketPostfix,
		Software:      software,
	})
	if err := n.services.RegisterService(rpcSvc); err != nil {
		return err
	}
	monitoringAddr := fmt.Sprintf("%s:%d",
		cliCtx.String(flags.MonitoringHostFlag.Name),
		cliCtx.Int(flags.MonitoringPortFlag.Name),
	)
	return n.services.RegisterService(prometheus.NewService(monitoringAddr, n.services))
}

// Start the node and kick off every registered service.
func (n *CeremonyNode) Start() {
	n.lock.Lock()
	n.services.StartAll()
	n.lock.Unlock()
	log.Info("Ceremony coordinator started")

	stop := n.stop
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the ceremony node")
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// Close handles graceful shutdown of the system.
func (n *CeremonyNode) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping ceremony coordinator")
	n.services.StopAll()
	if err := n.db.Close(); err != nil {
		log.Errorf("Failed to close database: %v", err)
	}
	n.cancel()
	close(n.stop)
}
