package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"ausfoperator/pkg/core"
)

// Certificate exchange directory layout. The provider side is an external
// issuer that picks up request files and drops signed bundles.
const (
	exchangeReadyMarker = "ready"
	exchangeRequestsDir = "requests"
	exchangeIssuedDir   = "issued"
	exchangeRequestName = "ausf.csr"
)

// issuedBundle is the JSON document the issuer writes for each signed
// certificate. The originating CSR travels with it so the requester can
// reject stale issuances.
type issuedBundle struct {
	Certificate string `json:"certificate"`
	CSR         string `json:"csr"`
}

// CertificateExchange submits CSRs to a directory-based certificate
// provider. Issuance results arrive asynchronously through the watcher.
type CertificateExchange struct {
	root string
}

var _ CertificateRequester = (*CertificateExchange)(nil)

// NewCertificateExchange builds an exchange rooted at the given directory.
func NewCertificateExchange(root string) *CertificateExchange {
	return &CertificateExchange{root: root}
}

// Attached reports whether the provider directory exists.
func (exchange *CertificateExchange) Attached() bool {
	info, err := os.Stat(exchange.root)
	return err == nil && info.IsDir()
}

// Ready reports whether the provider has signalled it accepts requests.
func (exchange *CertificateExchange) Ready() bool {
	_, err := os.Stat(filepath.Join(exchange.root, exchangeReadyMarker))
	return err == nil
}

// RequestCertificate places the CSR where the issuer will find it. Fire and
// forget: the signed certificate comes back as an event.
func (exchange *CertificateExchange) RequestCertificate(_ context.Context, csr []byte) error {
	requestsDir := filepath.Join(exchange.root, exchangeRequestsDir)

	if err := os.MkdirAll(requestsDir, 0o755); err != nil {
		return fmt.Errorf("create requests dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(requestsDir, exchangeRequestName), csr, 0o600); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// CertificateWatcher maps provider directory lifecycle and issued bundles to
// dispatcher events.
type CertificateWatcher struct {
	exchange *CertificateExchange
	sink     EventSink
	logger   logr.Logger
}

// NewCertificateWatcher builds a watcher feeding the given sink.
func NewCertificateWatcher(exchange *CertificateExchange, sink EventSink, logger logr.Logger) *CertificateWatcher {
	return &CertificateWatcher{exchange: exchange, sink: sink, logger: logger}
}

// Run watches the provider directory until the context is cancelled. The
// parent of the provider root must exist; the root itself may come and go.
func (watcher *CertificateWatcher) Run(ctx context.Context) error {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer notifier.Close()

	parent := filepath.Dir(watcher.exchange.root)
	if err := notifier.Add(parent); err != nil {
		return fmt.Errorf("watch %s: %w", parent, err)
	}

	// Catch up with whatever already happened before the watch started.
	if watcher.exchange.Attached() {
		watcher.attach(notifier)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, open := <-notifier.Events:
			if !open {
				return nil
			}
			watcher.handle(notifier, event)
		case watchErr, open := <-notifier.Errors:
			if !open {
				return nil
			}
			watcher.logger.Error(watchErr, "certificate watch error")
		}
	}
}

// attach registers watches below the provider root and replays its current
// state as events.
func (watcher *CertificateWatcher) attach(notifier *fsnotify.Watcher) {
	if err := notifier.Add(watcher.exchange.root); err != nil {
		watcher.logger.Error(err, "watch provider root")
	}

	watcher.sink.Emit(core.Event{Kind: core.EventTLSProviderCreated})

	if watcher.exchange.Ready() {
		watcher.sink.Emit(core.Event{Kind: core.EventTLSProviderJoined})
	}

	issuedDir := filepath.Join(watcher.exchange.root, exchangeIssuedDir)
	if _, err := os.Stat(issuedDir); err == nil {
		if err := notifier.Add(issuedDir); err != nil {
			watcher.logger.Error(err, "watch issued dir")
		}
		watcher.replayIssued(issuedDir)
	}
}

func (watcher *CertificateWatcher) handle(notifier *fsnotify.Watcher, event fsnotify.Event) {
	root := watcher.exchange.root
	issuedDir := filepath.Join(root, exchangeIssuedDir)

	switch {
	case event.Name == root && event.Op.Has(fsnotify.Create):
		watcher.logger.Info("certificate provider attached")
		watcher.attach(notifier)

	case event.Name == root && (event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename)):
		watcher.logger.Info("certificate provider detached")
		watcher.sink.Emit(core.Event{Kind: core.EventTLSProviderRemoved})

	case event.Name == filepath.Join(root, exchangeReadyMarker) && event.Op.Has(fsnotify.Create):
		watcher.sink.Emit(core.Event{Kind: core.EventTLSProviderJoined})

	case event.Name == issuedDir && event.Op.Has(fsnotify.Create):
		if err := notifier.Add(issuedDir); err != nil {
			watcher.logger.Error(err, "watch issued dir")
		}
		watcher.replayIssued(issuedDir)

	case filepath.Dir(event.Name) == issuedDir && (event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write)):
		watcher.emitBundle(event.Name)
	}
}

// replayIssued emits events for bundles already present in the issued dir.
func (watcher *CertificateWatcher) replayIssued(issuedDir string) {
	entries, err := os.ReadDir(issuedDir)
	if err != nil {
		watcher.logger.Error(err, "list issued bundles")
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		watcher.emitBundle(filepath.Join(issuedDir, entry.Name()))
	}
}

func (watcher *CertificateWatcher) emitBundle(path string) {
	if !strings.HasSuffix(path, ".json") {
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		watcher.logger.Error(err, "read issued bundle", "path", path)
		return
	}

	var bundle issuedBundle
	if err := json.Unmarshal(content, &bundle); err != nil {
		watcher.logger.Error(err, "parse issued bundle", "path", path)
		return
	}
	if bundle.Certificate == "" {
		watcher.logger.Info("issued bundle without certificate ignored", "path", path)
		return
	}

	watcher.sink.Emit(core.Event{
		Kind:        core.EventCertificateAvailable,
		Certificate: bundle.Certificate,
		CSR:         bundle.CSR,
	})
}
