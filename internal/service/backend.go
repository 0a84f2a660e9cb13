package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/waconnect/bridge-server-go/internal/config"
	apperrors "github.com/waconnect/bridge-server-go/internal/errors"
	"github.com/waconnect/bridge-server-go/internal/model"
)

// endpointCandidate is one (method, path) attempt against the messaging
// backend. Backend versions disagree about paths, so calls walk an ordered
// candidate list: 404 means try the next one, anything else settles the
// call. This is a compatibility shim, not speculative generality.
type endpointCandidate struct {
	method string
	path   string
}

var (
	instanceInfoCandidates = []endpointCandidate{
		{http.MethodGet, "/instance/info"},
		{http.MethodGet, "/instance/status"},
		{http.MethodGet, "/status"},
	}
	listInstancesCandidates = []endpointCandidate{
		{http.MethodGet, "/instance/fetchInstances"},
		{http.MethodGet, "/instances"},
	}
	sendTextCandidates = []endpointCandidate{
		{http.MethodPost, "/message/sendText"},
		{http.MethodPost, "/send-message"},
	}
	listGroupsCandidates = []endpointCandidate{
		{http.MethodGet, "/group/fetchAllGroups"},
		{http.MethodGet, "/groups"},
	}
)

// BackendClient talks to the BSP-style messaging backend. Instance calls
// authenticate with the per-instance connection token; the instance listing
// uses the tenant's admin credential.
type BackendClient struct {
	client         *http.Client
	probeClient    *http.Client
	defaultBaseURL string
}

func NewBackendClient(defaultBaseURL string) *BackendClient {
	return &BackendClient{
		client:         &http.Client{Timeout: config.BackendRequestTimeout},
		probeClient:    &http.Client{Timeout: config.BackendProbeTimeout},
		defaultBaseURL: strings.TrimRight(defaultBaseURL, "/"),
	}
}

func (c *BackendClient) DefaultBaseURL() string {
	return c.defaultBaseURL
}

// InstanceInfo is the state reported by the backend for one instance. The
// response shape varies across backend versions; fields are scraped with
// explicit presence checks rather than a fixed schema.
type InstanceInfo struct {
	Status model.InstanceStatus
	Phone  string
}

// BackendInstance is one entry of the backend's own instance listing.
type BackendInstance struct {
	Token     string
	Name      string
	Phone     string
	Connected bool
}

func (c *BackendClient) baseURL(override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	return c.defaultBaseURL
}

// do walks the candidate list. A 404 moves to the next candidate; 401/403 is
// a credential rejection; any other non-2xx is a hard failure for the whole
// call. The returned error always names the attempted method and path.
func (c *BackendClient) do(ctx context.Context, baseURL, token string, candidates []endpointCandidate, payload any) (json.RawMessage, error) {
	base := c.baseURL(baseURL)
	if base == "" {
		return nil, apperrors.BackendUnreachable("no base URL configured", nil)
	}

	var lastAttempt string
	for _, cand := range candidates {
		attempt := fmt.Sprintf("%s %s", cand.method, cand.path)
		lastAttempt = attempt

		var body *bytes.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("marshal payload: %w", err)
			}
			body = bytes.NewReader(data)
		} else {
			body = bytes.NewReader(nil)
		}

		req, err := http.NewRequestWithContext(ctx, cand.method, base+cand.path, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("apikey", token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, apperrors.BackendUnreachable(attempt, err)
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			log.Debug().Str("attempt", attempt).Msg("backend endpoint not found, trying next candidate")
			continue
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			resp.Body.Close()
			return nil, apperrors.BackendAuth(attempt)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, apperrors.BackendUnreachable(
				fmt.Sprintf("%s returned status %d", attempt, resp.StatusCode), nil)
		}

		var raw json.RawMessage
		err = json.NewDecoder(resp.Body).Decode(&raw)
		resp.Body.Close()
		if err != nil {
			return nil, apperrors.BackendUnreachable(fmt.Sprintf("%s returned unparseable body", attempt), err)
		}
		return raw, nil
	}

	return nil, apperrors.BackendUnreachable(
		fmt.Sprintf("no known endpoint responded (last tried %s)", lastAttempt), nil)
}

func (c *BackendClient) FetchInstanceInfo(ctx context.Context, baseURL, token string) (*InstanceInfo, error) {
	raw, err := c.do(ctx, baseURL, token, instanceInfoCandidates, nil)
	if err != nil {
		return nil, err
	}
	return parseInstanceInfo(raw), nil
}

func (c *BackendClient) ListInstances(ctx context.Context, baseURL, apiKey string) ([]BackendInstance, error) {
	raw, err := c.do(ctx, baseURL, apiKey, listInstancesCandidates, nil)
	if err != nil {
		return nil, err
	}
	return parseInstanceList(raw), nil
}

func (c *BackendClient) SendText(ctx context.Context, baseURL, token, toPhone, text string) error {
	payload := map[string]any{
		"number":  toPhone,
		"phone":   toPhone,
		"text":    text,
		"message": text,
	}
	_, err := c.do(ctx, baseURL, token, sendTextCandidates, payload)
	return err
}

func (c *BackendClient) ListGroups(ctx context.Context, baseURL, token string) ([]string, error) {
	raw, err := c.do(ctx, baseURL, token, listGroupsCandidates, nil)
	if err != nil {
		return nil, err
	}

	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, nil
	}
	var ids []string
	for _, entry := range entries {
		if id := firstString(entry, "id", "jid", "groupId"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ServerOnline probes a backend server. Any HTTP response counts as online;
// only transport failures and timeouts mark a server offline. Probes are
// grouped by base URL by the caller so each server is hit once per cycle.
func (c *BackendClient) ServerOnline(ctx context.Context, baseURL string) bool {
	base := c.baseURL(baseURL)
	if base == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.probeClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("baseUrl", base).Msg("backend server probe failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		log.Warn().Int("status", resp.StatusCode).Str("baseUrl", base).Msg("backend server unhealthy")
		return false
	}
	return true
}

// parseInstanceInfo scrapes status and phone out of the version-dependent
// response shapes: either a flat object or one nested under "instance".
func parseInstanceInfo(raw json.RawMessage) *InstanceInfo {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return &InstanceInfo{Status: model.InstanceStatusDisconnected}
	}

	obj := body
	if nested, ok := body["instance"].(map[string]any); ok {
		obj = nested
	}

	info := &InstanceInfo{
		Status: statusFromBackend(firstString(obj, "status", "state", "connectionStatus")),
		Phone:  firstString(obj, "phone", "number", "owner", "wid"),
	}
	// Some versions strip the device suffix already, some do not.
	if i := strings.IndexAny(info.Phone, ":@"); i >= 0 {
		info.Phone = info.Phone[:i]
	}
	return info
}

func parseInstanceList(raw json.RawMessage) []BackendInstance {
	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		// Older versions wrap the list in an object.
		var wrapper map[string]any
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil
		}
		list, ok := wrapper["instances"].([]any)
		if !ok {
			return nil
		}
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				entries = append(entries, m)
			}
		}
	}

	var result []BackendInstance
	for _, entry := range entries {
		obj := entry
		if nested, ok := entry["instance"].(map[string]any); ok {
			obj = nested
		}
		token := firstString(obj, "token", "apikey", "instanceToken")
		if token == "" {
			continue
		}
		status := statusFromBackend(firstString(obj, "status", "state", "connectionStatus"))
		result = append(result, BackendInstance{
			Token:     token,
			Name:      firstString(obj, "instanceName", "name", "id"),
			Phone:     firstString(obj, "phone", "number", "owner"),
			Connected: status == model.InstanceStatusConnected,
		})
	}
	return result
}

func statusFromBackend(s string) model.InstanceStatus {
	switch strings.ToLower(s) {
	case "open", "connected", "online":
		return model.InstanceStatusConnected
	case "connecting", "qrcode", "pairing":
		return model.InstanceStatusConnecting
	default:
		return model.InstanceStatusDisconnected
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
