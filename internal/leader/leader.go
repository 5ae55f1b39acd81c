// Package leader keeps the event relay running on a single replica.
//
// Every replica campaigns for one Kubernetes Lease. The holder forwards the
// event log to NATS and the others stand by. A holder that fails to renew has
// its relay context cancelled and goes back to campaigning, and a replica that
// shuts down releases the lease so a standby takes over without waiting for it
// to expire.
package leader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/jensholdgaard/bazaar/internal/config"
)

// Term is one stretch of leadership. ctx ends when the lease is lost or the
// replica shuts down; the relay loop returns then.
type Term func(ctx context.Context)

// Identity names this replica on the lease. POD_NAME wins. Outside a cluster
// the hostname plus pid keeps two processes on one machine apart.
func Identity() string {
	if name := os.Getenv("POD_NAME"); name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}

// ClientFactory creates a Kubernetes clientset.
// Extracted as a variable for testing.
var ClientFactory = func() (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("building in-cluster config: %w", err)
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return client, nil
}

func newElector(client kubernetes.Interface, cfg config.LeaderElectionConfig, id string, logger *slog.Logger, term Term) (*leaderelection.LeaderElector, error) {
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      cfg.LeaseName,
			Namespace: cfg.LeaseNamespace,
		},
		Client:     client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{Identity: id},
	}

	// OnStartedLeading runs on its own goroutine.
	var since atomic.Int64
	return leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:          lock,
		LeaseDuration: cfg.LeaseDuration,
		RenewDeadline: cfg.RenewDeadline,
		RetryPeriod:   cfg.RetryPeriod,
		// Hand the lease to a standby on shutdown instead of making it wait
		// out LeaseDuration.
		ReleaseOnCancel: true,
		Name:            cfg.LeaseName,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) {
				since.Store(time.Now().UnixNano())
				logger.InfoContext(ctx, "relay lease acquired, forwarding events", slog.String("identity", id))
				term(ctx)
			},
			OnStoppedLeading: func() {
				started := since.Load()
				if started == 0 {
					return
				}
				logger.Info("relay lease released, relay stopped",
					slog.String("identity", id),
					slog.Duration("held", time.Since(time.Unix(0, started))),
				)
			},
			OnNewLeader: func(holder string) {
				if holder == id {
					return
				}
				logger.Info("standing by, relay runs elsewhere", slog.String("holder", holder))
			},
		},
	})
}

// Do campaigns for the relay lease once. It returns after this replica has
// held and lost the lease, or when ctx is done. With election disabled term
// runs directly until ctx is done.
func Do(ctx context.Context, cfg config.LeaderElectionConfig, logger *slog.Logger, term Term) error {
	if !cfg.Enabled {
		term(ctx)
		return nil
	}

	client, err := ClientFactory()
	if err != nil {
		return fmt.Errorf("leader election client: %w", err)
	}
	id := Identity()
	elector, err := newElector(client, cfg, id, logger, term)
	if err != nil {
		return fmt.Errorf("configuring leader election: %w", err)
	}

	logger.InfoContext(ctx, "campaigning for relay lease",
		slog.String("identity", id),
		slog.String("lease", cfg.LeaseName),
		slog.String("namespace", cfg.LeaseNamespace),
	)
	elector.Run(ctx)
	return nil
}

// Campaign calls Do until ctx is done, so a replica that lost the lease
// stands by for the next vacancy. Setup errors are logged and retried after
// RetryPeriod.
func Campaign(ctx context.Context, cfg config.LeaderElectionConfig, logger *slog.Logger, term Term) {
	for ctx.Err() == nil {
		err := Do(ctx, cfg, logger, term)
		if err == nil {
			continue
		}
		logger.ErrorContext(ctx, "relay leader election failed", slog.Any("error", err))
		select {
		case <-ctx.Done():
		case <-time.After(cfg.RetryPeriod):
		}
	}
}
