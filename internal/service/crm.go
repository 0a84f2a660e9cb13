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
)

// CRMClient calls the CRM platform's conversation API. All endpoints are
// versioned through a request header. A 401 surfaces as AuthExpired so the
// token-refresh flow (outside this core) can distinguish a stale token from
// a genuine failure.
type CRMClient struct {
	client     *http.Client
	baseURL    string
	apiVersion string
}

func NewCRMClient(baseURL, apiVersion string) *CRMClient {
	return &CRMClient{
		client:     &http.Client{Timeout: config.CRMRequestTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: apiVersion,
	}
}

type CRMContact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (c *CRMClient) doJSON(ctx context.Context, method, path, token string, payload any, out any) error {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Version", c.apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("crm request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return apperrors.AuthExpired("CRM")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("crm request %s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode crm response: %w", err)
		}
	}
	return nil
}

func (c *CRMClient) GetContact(ctx context.Context, token, contactID string) (*CRMContact, error) {
	var wrapper struct {
		Contact CRMContact `json:"contact"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/contacts/"+contactID, token, nil, &wrapper); err != nil {
		return nil, err
	}
	return &wrapper.Contact, nil
}

// UploadInboundMessage posts an inbound WhatsApp message into the CRM
// conversation and returns the CRM contact id the message landed on.
func (c *CRMClient) UploadInboundMessage(ctx context.Context, token, externalLocationID, phone, name, body string) (string, error) {
	payload := map[string]any{
		"locationId": externalLocationID,
		"phone":      phone,
		"name":       name,
		"message":    body,
		"type":       "WhatsApp",
		"direction":  "inbound",
	}

	var result struct {
		ContactID      string `json:"contactId"`
		ConversationID string `json:"conversationId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/conversations/messages/inbound", token, payload, &result); err != nil {
		return "", err
	}
	return result.ContactID, nil
}

// AddSystemComment drops a system annotation into the conversation, used to
// confirm override commands. Best effort: callers log and continue when it
// fails, it must never block a send.
func (c *CRMClient) AddSystemComment(ctx context.Context, token, contactID, comment string) error {
	payload := map[string]any{
		"contactId": contactID,
		"message":   comment,
		"type":      "Custom",
	}
	err := c.doJSON(ctx, http.MethodPost, "/conversations/messages", token, payload, nil)
	if err != nil {
		log.Warn().Err(err).Str("contactId", contactID).Msg("failed to write system comment")
	}
	return err
}
