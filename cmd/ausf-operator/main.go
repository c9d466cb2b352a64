package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"ausfoperator/pkg/adapters"
	"ausfoperator/pkg/agents/status"
	"ausfoperator/pkg/controllers/ausf"
	"ausfoperator/pkg/core"
)

var setupLog = ctrl.Log.WithName("setup")

func main() {
	var pebbleSocket string
	var nrfDataFile string
	var certificatesDir string
	var metricsAddr string
	var probeAddr string
	var serviceName string
	var labelSelector string
	var syncInterval time.Duration

	flag.StringVar(&pebbleSocket, "pebble-socket", "/var/lib/pebble/ausf/.pebble.socket", "Path of the workload container's Pebble API socket.")
	flag.StringVar(&nrfDataFile, "nrf-data-file", "/etc/ausf-operator/nrf/url", "File carrying the NRF management URL; absent until the NRF integration exists.")
	flag.StringVar(&certificatesDir, "certificates-dir", "/etc/ausf-operator/certificates", "Exchange directory shared with the certificate provider.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the health probe endpoint binds to.")
	flag.StringVar(&serviceName, "service-name", "ausf", "Name of the Kubernetes Service publishing the SBI port.")
	flag.StringVar(&labelSelector, "operator-label-selector", "app.kubernetes.io/name=ausf-operator", "Label selector matching operator pods, used to refuse scaled deployments.")
	flag.DurationVar(&syncInterval, "sync-interval", 5*time.Minute, "Interval of the periodic reconciliation tick.")
	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	namespace := requireEnv("NAMESPACE")
	podName := requireEnv("POD_NAME")
	envPodIP := os.Getenv("POD_IP")

	ctx := ctrl.SetupSignalHandler()

	client, err := kubernetes.NewForConfig(ctrl.GetConfigOrDie())
	if err != nil {
		setupLog.Error(err, "unable to build Kubernetes client")
		os.Exit(1)
	}

	// A second operator instance would fight over the workload's files and
	// service; refuse to start alongside one.
	if err := adapters.EnsureSingleInstance(ctx, client, namespace, labelSelector, podName); err != nil {
		setupLog.Error(err, "refusing to start")
		os.Exit(1)
	}

	backoff := core.StartupBackoff()

	publisher := adapters.NewServicePublisher(client, namespace, serviceName)
	if _, err := backoff.Retry(ctx, func() error { return publisher.EnsureSBIPort(ctx) }); err != nil {
		setupLog.Error(err, "unable to publish SBI port", "service", serviceName)
		os.Exit(1)
	}

	var pod *corev1.Pod
	if _, err := backoff.Retry(ctx, func() error {
		var getErr error
		pod, getErr = client.CoreV1().Pods(namespace).Get(ctx, podName, metav1.GetOptions{})
		return getErr
	}); err != nil {
		setupLog.Error(err, "unable to fetch own pod", "pod", podName)
		os.Exit(1)
	}

	broadcaster := record.NewBroadcaster()
	broadcaster.StartRecordingToSink(&typedcorev1.EventSinkImpl{Interface: client.CoreV1().Events(namespace)})
	defer broadcaster.Shutdown()
	recorder := broadcaster.NewRecorder(clientgoscheme.Scheme, corev1.EventSource{Component: "ausf-operator"})
	emitter := adapters.NewEventEmitter(recorder, pod)

	renderer, err := adapters.NewEmbeddedRenderer()
	if err != nil {
		setupLog.Error(err, "unable to load configuration templates")
		os.Exit(1)
	}

	pebble := adapters.NewPebbleClient(pebbleSocket)
	registration := adapters.NewFileRegistrationSource(nrfDataFile)
	exchange := adapters.NewCertificateExchange(certificatesDir)
	resolver := adapters.NewPodIPResolver(client, namespace, podName, envPodIP)

	identity := ausf.NewIdentityStore(pebble, ctrl.Log.WithName("identity"))
	certificates := ausf.NewCertificateManager(identity, exchange, pebble, ctrl.Log.WithName("certificates"))
	tracker := status.NewTracker(ctrl.Log.WithName("status"), emitter)

	reconciler := ausf.NewReconciler(ausf.ReconcilerParams{
		Store:        pebble,
		Probe:        pebble,
		Supervisor:   pebble,
		Registration: registration,
		Resolver:     resolver,
		Renderer:     renderer,
		Identity:     identity,
		Certificates: certificates,
		Status:       tracker,
		Notifier:     emitter,
		Logger:       ctrl.Log.WithName("reconciler"),
	})

	loop := core.NewEventLoop(reconciler)

	registrationWatcher := adapters.NewRegistrationWatcher(registration, loop, ctrl.Log.WithName("nrf-watcher"))
	certificateWatcher := adapters.NewCertificateWatcher(exchange, loop, ctrl.Log.WithName("certificates-watcher"))

	go runOrDie(ctx, "nrf watcher", registrationWatcher.Run)
	go runOrDie(ctx, "certificates watcher", certificateWatcher.Run)
	go watchContainerReadiness(ctx, pebble, loop)
	go runPeriodicSync(ctx, loop, certificates, syncInterval)
	go serveMetrics(metricsAddr)
	go serveProbes(probeAddr)

	setupLog.Info("starting event loop",
		"pebbleSocket", pebbleSocket,
		"nrfDataFile", nrfDataFile,
		"certificatesDir", certificatesDir,
		"syncInterval", syncInterval.String(),
	)
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		setupLog.Error(err, "event loop stopped")
		os.Exit(1)
	}
}

func requireEnv(name string) string {
	value := os.Getenv(name)
	if value == "" {
		setupLog.Error(fmt.Errorf("environment variable %s is not set", name), "missing configuration")
		os.Exit(1)
	}
	return value
}

func runOrDie(ctx context.Context, name string, run func(context.Context) error) {
	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		setupLog.Error(err, "background task stopped", "task", name)
		os.Exit(1)
	}
}

// watchContainerReadiness polls the Pebble API and emits a readiness event
// on every transition to reachable. The first successful poll triggers the
// initial reconciliation pass.
func watchContainerReadiness(ctx context.Context, probe adapters.ContainerProbe, loop *core.EventLoop) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	reachable := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := probe.CanConnect(ctx)
			if current && !reachable {
				loop.Emit(core.Event{Kind: core.EventContainerReady})
			}
			reachable = current
		}
	}
}

// runPeriodicSync drives the redelivery guarantee for deferred events and
// the certificate expiry check.
func runPeriodicSync(ctx context.Context, loop *core.EventLoop, certificates *ausf.CertificateManager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if event, expiring := certificates.CheckExpiry(ctx); expiring {
				loop.Emit(event)
			}
			loop.Emit(core.Event{Kind: core.EventSyncTick})
		}
	}
}

func serveMetrics(address string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{}))

	if err := http.ListenAndServe(address, mux); err != nil {
		setupLog.Error(err, "metrics endpoint stopped")
		os.Exit(1)
	}
}

func serveProbes(address string) {
	mux := http.NewServeMux()
	healthy := func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	}
	mux.HandleFunc("/healthz", healthy)
	mux.HandleFunc("/readyz", healthy)

	if err := http.ListenAndServe(address, mux); err != nil {
		setupLog.Error(err, "health probe endpoint stopped")
		os.Exit(1)
	}
}
