package controller

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/lexfrei/internet-gateway/internal/config"
	"github.com/lexfrei/internet-gateway/internal/dns"
	"github.com/lexfrei/internet-gateway/internal/ingress"
	"github.com/lexfrei/internet-gateway/internal/metrics"
	"github.com/lexfrei/internet-gateway/internal/prereq"
	"github.com/lexfrei/internet-gateway/internal/topology"
)

// disabledBindAddress turns off a controller-runtime listener.
const disabledBindAddress = "0"

var errNotSynced = errors.New("initial service sync not complete")

// Run wires the controller components and blocks until ctx is cancelled or
// the manager fails.
//
// The function performs the following steps:
//  1. Creates the controller-runtime manager serving metrics and health probes
//  2. Builds a direct (uncached) client for list/watch and Ingress writes
//  3. Resolves the Cloudflare token; none disables DNS reconciliation
//  4. Runs the prerequisite probe once
//  5. Starts the watch loop as a manager runnable
//
//nolint:funlen // controller setup requires multiple steps
func Run(ctx context.Context, opts *config.Options) error {
	logger := log.FromContext(ctx).WithName("manager")

	err := opts.Validate()
	if err != nil {
		return err
	}

	selector, err := opts.ControllerSelector()
	if err != nil {
		return err
	}

	metricsAddr := opts.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = disabledBindAddress
	}

	scheme := runtime.NewScheme()

	err = clientgoscheme.AddToScheme(scheme)
	if err != nil {
		return errors.Wrap(err, "failed to add client-go scheme")
	}

	logger.Info("creating ctrl.Manager")

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme: scheme,
		Metrics: server.Options{
			BindAddress: metricsAddr,
		},
		HealthProbeBindAddress: opts.HealthAddr,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create manager")
	}

	kubeClient, err := client.NewWithWatch(mgr.GetConfig(), client.Options{
		Scheme: mgr.GetScheme(),
		Mapper: mgr.GetRESTMapper(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create kubernetes client")
	}

	collector := metrics.NewCollector(ctrlmetrics.Registry)

	token, err := config.NewResolver(kubeClient).ResolveAPIToken(ctx, opts)
	if err != nil {
		return errors.Wrap(err, "failed to resolve Cloudflare credentials")
	}

	var provider dns.Provider
	if token != "" {
		provider = dns.NewCloudflareProvider(token, collector)
	}

	probe := prereq.NewProbe(kubeClient, opts.IngressControllerNamespace, selector, collector)
	ready := probe.Check(ctx)

	resolver := topology.NewResolver(kubeClient, opts.IngressControllerNamespace, selector)

	engine := NewEngine(
		resolver,
		dns.NewReconciler(provider, collector),
		ingress.NewReconciler(kubeClient, opts.ClusterIssuer, opts.IngressClassName, collector),
		ready.Ready(),
		collector,
	)

	loop := NewLoop(kubeClient, resolver, engine, opts.WatchTimeout, opts.Backoff, collector)

	err = mgr.Add(manager.RunnableFunc(loop.Run))
	if err != nil {
		return errors.Wrap(err, "failed to add watch loop")
	}

	err = mgr.AddHealthzCheck("healthz", healthz.Ping)
	if err != nil {
		return errors.Wrap(err, "failed to set up health check")
	}

	err = mgr.AddReadyzCheck("readyz", syncedCheck(loop))
	if err != nil {
		return errors.Wrap(err, "failed to set up ready check")
	}

	logger.Info("starting manager",
		"dnsEnabled", provider != nil,
		"httpsEnabled", ready.Ready(),
		"clusterIssuer", opts.ClusterIssuer,
	)

	err = mgr.Start(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to start manager")
	}

	return nil
}

// syncedCheck reports ready once the loop has completed a full sync.
func syncedCheck(loop *Loop) healthz.Checker {
	return func(_ *http.Request) error {
		if !loop.Synced() {
			return errNotSynced
		}

		return nil
	}
}
