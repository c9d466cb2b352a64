package ausf

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"ausfoperator/pkg/adapters"
	"ausfoperator/pkg/agents/status"
	"ausfoperator/pkg/core"
	"ausfoperator/pkg/observability/metrics"
)

// Notifier surfaces notable happenings outward. May be nil.
type Notifier interface {
	EmitRestart(service string)
	EmitError(err error)
}

// Reconciler is the single entry point for every event. Each dispatch
// re-runs the full readiness gate and re-converges configuration and service
// from scratch; no handler applies deltas.
type Reconciler struct {
	store        adapters.ContainerStore
	probe        adapters.ContainerProbe
	supervisor   adapters.ProcessSupervisor
	registration adapters.RegistrationSource
	resolver     adapters.PodAddressResolver
	renderer     adapters.TemplateRenderer
	identity     *IdentityStore
	certificates *CertificateManager
	status       *status.Tracker
	notifier     Notifier
	logger       logr.Logger
}

var _ core.Dispatcher = (*Reconciler)(nil)

// ReconcilerParams collects the collaborators a Reconciler needs.
type ReconcilerParams struct {
	Store        adapters.ContainerStore
	Probe        adapters.ContainerProbe
	Supervisor   adapters.ProcessSupervisor
	Registration adapters.RegistrationSource
	Resolver     adapters.PodAddressResolver
	Renderer     adapters.TemplateRenderer
	Identity     *IdentityStore
	Certificates *CertificateManager
	Status       *status.Tracker
	Notifier     Notifier
	Logger       logr.Logger
}

// NewReconciler wires a Reconciler from its collaborators.
func NewReconciler(params ReconcilerParams) *Reconciler {
	return &Reconciler{
		store:        params.Store,
		probe:        params.Probe,
		supervisor:   params.Supervisor,
		registration: params.Registration,
		resolver:     params.Resolver,
		renderer:     params.Renderer,
		identity:     params.Identity,
		certificates: params.Certificates,
		status:       params.Status,
		notifier:     params.Notifier,
		logger:       params.Logger,
	}
}

// Dispatch handles one event and reports whether it must be redelivered.
func (reconciler *Reconciler) Dispatch(event core.Event) bool {
	ctx := context.Background()
	start := time.Now()

	outcome, deferred := reconciler.dispatch(ctx, event)

	metrics.RecordDispatch(event.Kind, outcome, time.Since(start))
	return deferred
}

func (reconciler *Reconciler) dispatch(ctx context.Context, event core.Event) (string, bool) {
	logger := reconciler.logger.WithValues("event", string(event.Kind))

	switch event.Kind {
	case core.EventTLSProviderCreated:
		deferred, err := reconciler.certificates.HandleProviderCreated(ctx)
		return reconciler.settle(logger, deferred, err)

	case core.EventTLSProviderJoined:
		deferred, err := reconciler.certificates.HandleProviderJoined(ctx)
		return reconciler.settle(logger, deferred, err)

	case core.EventCertificateAvailable:
		applied, deferred, err := reconciler.certificates.HandleCertificateAvailable(ctx, event)
		if err != nil || deferred {
			return reconciler.settle(logger, deferred, err)
		}
		if !applied {
			return metrics.OutcomeIgnored, false
		}
		return reconciler.configure(ctx, logger)

	case core.EventCertificateExpiring:
		deferred, err := reconciler.certificates.HandleCertificateExpiring(ctx, event)
		return reconciler.settle(logger, deferred, err)

	case core.EventTLSProviderRemoved:
		deferred, err := reconciler.certificates.HandleProviderRemoved(ctx)
		if err != nil || deferred {
			return reconciler.settle(logger, deferred, err)
		}
		return reconciler.configure(ctx, logger)

	default:
		// Container readiness, registration changes and periodic ticks all
		// funnel into the same full pass.
		return reconciler.configure(ctx, logger)
	}
}

// settle folds a certificate handler result into a dispatch outcome.
func (reconciler *Reconciler) settle(logger logr.Logger, deferred bool, err error) (string, bool) {
	if err != nil {
		logger.Error(err, "certificate handling failed")
		if reconciler.notifier != nil {
			reconciler.notifier.EmitError(err)
		}
		return metrics.OutcomeError, false
	}
	if deferred {
		return metrics.OutcomeDeferred, true
	}
	return metrics.OutcomeHandled, false
}

// configure is one full reconciliation pass: gate, configuration, service.
func (reconciler *Reconciler) configure(ctx context.Context, logger logr.Logger) (string, bool) {
	gate := reconciler.checkReadiness(ctx)

	switch gate.Decision {
	case core.DecisionBlock:
		reconciler.status.Set(core.StateBlocked, gate.Reason)
		return metrics.OutcomeBlocked, false

	case core.DecisionDefer:
		reconciler.status.Set(core.StateWaiting, gate.Reason)
		return metrics.OutcomeDeferred, true
	}

	podIP, err := reconciler.resolver.CurrentPodAddress(ctx)
	if err != nil || podIP == "" {
		reconciler.status.Set(core.StateWaiting, "waiting for pod IP address to be available")
		return metrics.OutcomeDeferred, true
	}

	configChanged, err := reconciler.applyConfig(ctx, podIP)
	if err != nil {
		return reconciler.fail(logger, err)
	}

	if err := reconciler.ensureService(ctx, podIP, configChanged); err != nil {
		return reconciler.fail(logger, err)
	}

	reconciler.status.Set(core.StateActive, "")
	return metrics.OutcomeActive, false
}

// fail reports a pass that stopped on an error. Unreachable-container
// failures defer instead: the pass is safely reproducible once the container
// is back.
func (reconciler *Reconciler) fail(logger logr.Logger, err error) (string, bool) {
	if core.IsUnreachable(err) {
		reconciler.status.Set(core.StateWaiting, "waiting for container to start")
		return metrics.OutcomeDeferred, true
	}

	logger.Error(err, "reconciliation failed")
	if reconciler.notifier != nil {
		reconciler.notifier.EmitError(err)
	}
	return metrics.OutcomeError, false
}

// checkReadiness runs the ordered precondition checks, stopping at the first
// failure. The order is contractual: an unreachable container must mask
// every later check.
func (reconciler *Reconciler) checkReadiness(ctx context.Context) core.GateResult {
	if !reconciler.probe.CanConnect(ctx) {
		return core.Defer("waiting for container to start")
	}

	if !reconciler.registration.Configured() {
		return core.Block("waiting for NRF registration to be configured")
	}

	if reconciler.registration.URL() == "" {
		return core.Defer("waiting for NRF data to be available")
	}

	mounted, err := reconciler.store.Exists(ctx, core.ConfigDir)
	if err != nil || !mounted {
		return core.Defer("waiting for storage to be attached")
	}

	address, err := reconciler.resolver.CurrentPodAddress(ctx)
	if err != nil || address == "" {
		return core.Defer("waiting for pod IP address to be available")
	}

	return core.Proceed()
}

// applyConfig renders the desired configuration and writes it only when it
// differs from the stored file. The byte comparison is the sole change
// signal for the service restart downstream.
func (reconciler *Reconciler) applyConfig(ctx context.Context, podIP string) (changed bool, err error) {
	certificateStored, err := reconciler.identity.CertificateStored(ctx)
	if err != nil {
		return false, fmt.Errorf("check certificate: %w", err)
	}

	inputs := core.NewConfigInputs(podIP, reconciler.registration.URL(), certificateStored)
	if err := core.ValidateInputs(inputs); err != nil {
		return false, fmt.Errorf("invalid config inputs: %w", err)
	}

	rendered, err := reconciler.renderer.Render(core.ConfigTemplateName, inputs)
	if err != nil {
		return false, err
	}

	configPath := core.ConfigDir + "/" + core.ConfigFileName

	existing, err := reconciler.store.Read(ctx, configPath)
	if err != nil && !core.IsNotFound(err) {
		return false, fmt.Errorf("read config: %w", err)
	}
	if err == nil && bytes.Equal(existing, rendered) {
		return false, nil
	}

	if err := reconciler.store.Write(ctx, configPath, rendered, true); err != nil {
		return false, fmt.Errorf("write config: %w", err)
	}

	reconciler.logger.Info("pushed config file", "path", configPath, "scheme", inputs.Scheme)
	return true, nil
}

// ensureService applies the desired service layer and restarts the workload
// iff the spec changed or the configuration content did. Spec diffing alone
// is not enough: the spec only names the config file path.
func (reconciler *Reconciler) ensureService(ctx context.Context, podIP string, configChanged bool) error {
	desired := core.DesiredServiceSpec(podIP)

	current, err := reconciler.supervisor.CurrentServices(ctx)
	if err != nil {
		return fmt.Errorf("get current services: %w", err)
	}

	currentSpec, exists := current[core.ServiceName]
	specChanged := !exists || !currentSpec.Equal(desired)

	if err := reconciler.supervisor.ApplyLayer(ctx, core.ContainerName, core.ServiceSpecSet{core.ServiceName: desired}); err != nil {
		return fmt.Errorf("apply layer: %w", err)
	}

	if !specChanged && !configChanged {
		return nil
	}

	if err := reconciler.supervisor.Restart(ctx, core.ServiceName); err != nil {
		return fmt.Errorf("restart service: %w", err)
	}

	metrics.RecordRestart()
	if reconciler.notifier != nil {
		reconciler.notifier.EmitRestart(core.ServiceName)
	}
	reconciler.logger.Info("restarted workload service", "service", core.ServiceName)
	return nil
}
