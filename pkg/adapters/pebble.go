package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ausfoperator/pkg/core"
)

// PebbleClient talks to the Pebble daemon inside the workload container over
// its unix socket API. It implements ContainerStore, ContainerProbe and
// ProcessSupervisor.
type PebbleClient struct {
	baseURL    string
	httpClient *http.Client

	// changePollInterval is how often async changes are polled for completion.
	changePollInterval time.Duration
}

var (
	_ ContainerStore    = (*PebbleClient)(nil)
	_ ContainerProbe    = (*PebbleClient)(nil)
	_ ProcessSupervisor = (*PebbleClient)(nil)
)

// NewPebbleClient returns a client for the daemon listening on socketPath.
func NewPebbleClient(socketPath string) *PebbleClient {
	dialer := &net.Dialer{}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", socketPath)
		},
	}

	return &PebbleClient{
		baseURL:            "http://localhost",
		httpClient:         &http.Client{Transport: transport},
		changePollInterval: 100 * time.Millisecond,
	}
}

// NewPebbleClientWithHTTP returns a client bound to an explicit base URL and
// HTTP client. Used by tests to point at an httptest server.
func NewPebbleClientWithHTTP(baseURL string, httpClient *http.Client) *PebbleClient {
	return &PebbleClient{
		baseURL:            baseURL,
		httpClient:         httpClient,
		changePollInterval: time.Millisecond,
	}
}

// apiResponse is the envelope every Pebble endpoint answers with.
type apiResponse struct {
	Type       string          `json:"type"`
	StatusCode int             `json:"status-code"`
	Change     string          `json:"change"`
	Result     json.RawMessage `json:"result"`
}

type apiError struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

func (response *apiResponse) err() error {
	if response.Type != "error" {
		return nil
	}

	var detail apiError
	if unmarshalErr := json.Unmarshal(response.Result, &detail); unmarshalErr != nil {
		return fmt.Errorf("pebble error with status %d", response.StatusCode)
	}
	if detail.Kind == "not-found" {
		return fmt.Errorf("%s: %w", detail.Message, core.ErrNotFound)
	}
	return fmt.Errorf("pebble: %s", detail.Message)
}

// CanConnect reports whether the daemon answers at all. Any transport
// failure means the container is not yet reachable.
func (client *PebbleClient) CanConnect(ctx context.Context) bool {
	var info struct {
		Version string `json:"version"`
	}

	return client.getJSON(ctx, "/v1/system-info", nil, &info) == nil
}

// Exists reports whether a file is present at path in the container.
func (client *PebbleClient) Exists(ctx context.Context, path string) (bool, error) {
	query := url.Values{}
	query.Set("action", "list")
	query.Set("path", path)
	query.Set("itself", "true")

	var entries []struct {
		Path string `json:"path"`
	}

	err := client.getJSON(ctx, "/v1/files", query, &entries)
	if core.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// Read pulls a file's content from the container. A missing file is reported
// as core.ErrNotFound.
func (client *PebbleClient) Read(ctx context.Context, path string) ([]byte, error) {
	query := url.Values{}
	query.Set("action", "read")
	query.Set("path", path)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+"/v1/files?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "multipart/form-data")

	httpResponse, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", path, err)
	}
	defer httpResponse.Body.Close()

	mediaType, params, err := mime.ParseMediaType(httpResponse.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("pull %s: parse content type: %w", path, err)
	}

	// Errors that prevent reading any file come back as a plain JSON envelope.
	if mediaType == "application/json" {
		var envelope apiResponse
		if decodeErr := json.NewDecoder(httpResponse.Body).Decode(&envelope); decodeErr != nil {
			return nil, fmt.Errorf("pull %s: %w", path, decodeErr)
		}
		if envelopeErr := envelope.err(); envelopeErr != nil {
			return nil, fmt.Errorf("pull %s: %w", path, envelopeErr)
		}
		return nil, fmt.Errorf("pull %s: unexpected json response", path)
	}

	reader := multipart.NewReader(httpResponse.Body, params["boundary"])

	var content []byte
	var haveContent bool

	for {
		part, partErr := reader.NextPart()
		if partErr == io.EOF {
			break
		}
		if partErr != nil {
			return nil, fmt.Errorf("pull %s: %w", path, partErr)
		}

		switch part.FormName() {
		case "files":
			data, readErr := io.ReadAll(part)
			if readErr != nil {
				return nil, fmt.Errorf("pull %s: %w", path, readErr)
			}
			content = data
			haveContent = true
		case "response":
			var envelope apiResponse
			if decodeErr := json.NewDecoder(part).Decode(&envelope); decodeErr != nil {
				return nil, fmt.Errorf("pull %s: %w", path, decodeErr)
			}
			if envelopeErr := envelope.err(); envelopeErr != nil {
				return nil, fmt.Errorf("pull %s: %w", path, envelopeErr)
			}
			if fileErr := firstFileError(envelope.Result); fileErr != nil {
				return nil, fmt.Errorf("pull %s: %w", path, fileErr)
			}
		}
	}

	if !haveContent {
		return nil, fmt.Errorf("pull %s: %w", path, core.ErrNotFound)
	}
	return content, nil
}

// Write pushes content to path inside the container, optionally creating the
// parent directories.
func (client *PebbleClient) Write(ctx context.Context, path string, content []byte, makeDirs bool) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	metadata := map[string]any{
		"action": "write",
		"files": []map[string]any{
			{"path": path, "make-dirs": makeDirs},
		},
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	if err := writer.WriteField("request", string(metadataJSON)); err != nil {
		return err
	}

	filePart, err := writer.CreateFormFile("files", path)
	if err != nil {
		return err
	}
	if _, err := filePart.Write(content); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+"/v1/files", body)
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())

	envelope, err := client.do(request)
	if err != nil {
		return fmt.Errorf("push %s: %w", path, err)
	}
	if fileErr := firstFileError(envelope.Result); fileErr != nil {
		return fmt.Errorf("push %s: %w", path, fileErr)
	}
	return nil
}

// Delete removes the file at path from the container.
func (client *PebbleClient) Delete(ctx context.Context, path string) error {
	payload := map[string]any{
		"action": "remove",
		"files":  []map[string]any{{"path": path}},
	}

	envelope, err := client.postJSON(ctx, "/v1/files", payload)
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	if fileErr := firstFileError(envelope.Result); fileErr != nil {
		return fmt.Errorf("remove %s: %w", path, fileErr)
	}
	return nil
}

// CurrentServices fetches the service entries of the combined plan.
func (client *PebbleClient) CurrentServices(ctx context.Context) (core.ServiceSpecSet, error) {
	query := url.Values{}
	query.Set("format", "yaml")

	var planYAML string
	if err := client.getJSON(ctx, "/v1/plan", query, &planYAML); err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}

	var plan struct {
		Services core.ServiceSpecSet `yaml:"services"`
	}
	if err := yaml.Unmarshal([]byte(planYAML), &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}

	if plan.Services == nil {
		plan.Services = core.ServiceSpecSet{}
	}
	return plan.Services, nil
}

// ApplyLayer merges the given services into the plan as a named layer.
func (client *PebbleClient) ApplyLayer(ctx context.Context, label string, services core.ServiceSpecSet) error {
	layer := struct {
		Services core.ServiceSpecSet `yaml:"services"`
	}{Services: services}

	layerYAML, err := yaml.Marshal(layer)
	if err != nil {
		return fmt.Errorf("marshal layer: %w", err)
	}

	payload := map[string]any{
		"action":  "add",
		"combine": true,
		"label":   label,
		"format":  "yaml",
		"layer":   string(layerYAML),
	}

	if _, err := client.postJSON(ctx, "/v1/layers", payload); err != nil {
		return fmt.Errorf("add layer %s: %w", label, err)
	}
	return nil
}

// Restart stops and starts the named service and waits for the resulting
// change to settle.
func (client *PebbleClient) Restart(ctx context.Context, service string) error {
	payload := map[string]any{
		"action":   "restart",
		"services": []string{service},
	}

	envelope, err := client.postJSON(ctx, "/v1/services", payload)
	if err != nil {
		return fmt.Errorf("restart %s: %w", service, err)
	}
	if envelope.Change == "" {
		return nil
	}
	if err := client.waitChange(ctx, envelope.Change); err != nil {
		return fmt.Errorf("restart %s: %w", service, err)
	}
	return nil
}

func (client *PebbleClient) waitChange(ctx context.Context, changeID string) error {
	ticker := time.NewTicker(client.changePollInterval)
	defer ticker.Stop()

	for {
		var change struct {
			Ready bool   `json:"ready"`
			Err   string `json:"err"`
		}

		if err := client.getJSON(ctx, "/v1/changes/"+changeID, nil, &change); err != nil {
			return err
		}
		if change.Ready {
			if change.Err != "" {
				return fmt.Errorf("change %s failed: %s", changeID, change.Err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (client *PebbleClient) getJSON(ctx context.Context, path string, query url.Values, result any) error {
	target := client.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}

	envelope, err := client.do(request)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(envelope.Result, result)
}

func (client *PebbleClient) postJSON(ctx context.Context, path string, payload any) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	return client.do(request)
}

func (client *PebbleClient) do(request *http.Request) (*apiResponse, error) {
	httpResponse, err := client.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer httpResponse.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(httpResponse.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if err := envelope.err(); err != nil {
		return nil, err
	}
	return &envelope, nil
}

// firstFileError extracts the per-file error from a files endpoint result.
func firstFileError(result json.RawMessage) error {
	if len(result) == 0 {
		return nil
	}

	var entries []struct {
		Path  string    `json:"path"`
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(result, &entries); err != nil {
		// The result was not a file list; nothing to report.
		return nil
	}

	for _, entry := range entries {
		if entry.Error == nil {
			continue
		}
		if entry.Error.Kind == "not-found" || strings.Contains(entry.Error.Message, "no such file") {
			return fmt.Errorf("%s: %w", entry.Path, core.ErrNotFound)
		}
		return fmt.Errorf("%s: %s", entry.Path, entry.Error.Message)
	}
	return nil
}
