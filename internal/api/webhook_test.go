// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/logging"
	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/store"
)

//nolint:gochecknoinits // quiet logger for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

const testAppSecret = "webhook-signing-secret"

// fakeStore is an in-memory Store for handler tests.
type fakeStore struct {
	mu       sync.Mutex
	tenants  map[string]models.Tenant // channel address -> tenant
	seen     map[string]bool          // tenantID:externalID
	inbound  []store.InboundMessage
	outbound []store.OutboundMessage
	statuses []models.MessageStatus
	messages []models.Message

	saveRace bool // SaveInbound reports a lost insert race
	failSave bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenants: map[string]models.Tenant{
			"15550001111": {ID: "tenant-a", Name: "Acme"},
		},
		seen: make(map[string]bool),
	}
}

func (s *fakeStore) TenantByChannelAddress(_ context.Context, address string) (models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[address]
	if !ok {
		return models.Tenant{}, store.ErrTenantNotFound
	}
	return t, nil
}

func (s *fakeStore) InboundSeen(_ context.Context, tenantID, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[tenantID+":"+externalID], nil
}

func (s *fakeStore) SaveInbound(_ context.Context, in store.InboundMessage) (models.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return models.Message{}, false, fmt.Errorf("storage down")
	}
	if s.saveRace {
		return models.Message{}, false, nil
	}
	s.inbound = append(s.inbound, in)
	s.seen[in.TenantID+":"+in.ExternalMessageID] = true
	return models.Message{
		ID:        uuid.New(),
		TenantID:  in.TenantID,
		Direction: models.DirectionInbound,
		Content:   in.Content,
		Status:    models.StatusReceived,
	}, true, nil
}

func (s *fakeStore) SaveOutbound(_ context.Context, out store.OutboundMessage) (models.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbound = append(s.outbound, out)
	return models.Message{
		ID:          uuid.New(),
		TenantID:    out.TenantID,
		Direction:   models.DirectionOutbound,
		Content:     out.Content,
		FromAddress: out.From,
		ToAddress:   out.To,
		Status:      models.StatusReceived,
		CreatedAt:   time.Now(),
	}, true, nil
}

func (s *fakeStore) MarkStatus(_ context.Context, _ string, _ uuid.UUID, status models.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeStore) ListMessages(_ context.Context, q store.ListQuery) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.TenantID == q.TenantID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) inboundCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbound)
}

// fakePublisher records published jobs.
type fakePublisher struct {
	mu   sync.Mutex
	jobs []*models.Job
	fail bool
}

func (p *fakePublisher) PublishJob(_ context.Context, _ string, job *models.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return fmt.Errorf("queue unavailable")
	}
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

func (p *fakePublisher) setFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fail
}

func webhookConfig() *config.Config {
	return &config.Config{
		Channel: config.ChannelConfig{
			VerifyToken: "verify-me",
			AppSecret:   testAppSecret,
			SenderID:    "15550001111",
		},
		NATS: config.NATSConfig{Subject: "jobs.reply"},
	}
}

func webhookHandler(st store.Store, pub JobPublisher) *Handler {
	return NewHandler(webhookConfig(), st, pub, nil, nil, nil)
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testAppSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func eventBody(from, id, text string) []byte {
	return []byte(fmt.Sprintf(`{
		"entry": [{
			"changes": [{
				"value": {
					"metadata": {"display_phone_number": "15550001111"},
					"contacts": [{"profile": {"name": "Jo"}, "wa_id": %q}],
					"messages": [{"from": %q, "id": %q, "text": {"body": %q}, "type": "text"}]
				}
			}]
		}]
	}`, from, from, id, text))
}

func postEvent(t *testing.T, h *Handler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	h.WebhookEvent(rec, req)
	return rec
}

func TestWebhookVerify(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{"valid handshake", "mode=subscribe&verify_token=verify-me&challenge=abc123", http.StatusOK, "abc123"},
		{"wrong token", "mode=subscribe&verify_token=nope&challenge=abc123", http.StatusForbidden, ""},
		{"wrong mode", "mode=unsubscribe&verify_token=verify-me&challenge=abc123", http.StatusForbidden, ""},
		{"missing token", "mode=subscribe&challenge=abc123", http.StatusForbidden, ""},
	}

	h := webhookHandler(newFakeStore(), &fakePublisher{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query, nil)
			rec := httptest.NewRecorder()
			h.WebhookVerify(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestWebhookEventAccepted(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	h := webhookHandler(st, pub)

	body := eventBody("15559998888", "wamid.100", "hello there")
	rec := postEvent(t, h, body, signBody(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %q, want ok acknowledgment", rec.Body.String())
	}
	if st.inboundCount() != 1 {
		t.Fatalf("inbound saved = %d, want 1", st.inboundCount())
	}
	if pub.count() != 1 {
		t.Fatalf("jobs published = %d, want 1", pub.count())
	}

	job := pub.jobs[0]
	if job.TenantID != "tenant-a" || job.From != "15559998888" || job.To != "15550001111" {
		t.Errorf("job routing = %+v", job)
	}
	if job.ExternalMessageID != "wamid.100" || job.Content != "hello there" {
		t.Errorf("job payload = %+v", job)
	}
}

func TestWebhookEventBadSignatureRejectedBeforeParse(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	h := webhookHandler(st, pub)

	// Not even valid JSON; the signature gate must fire first.
	rec := postEvent(t, h, []byte("{{{"), "sha256=deadbeef")

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if st.inboundCount() != 0 || pub.count() != 0 {
		t.Error("rejected event must not touch storage or the queue")
	}
}

func TestWebhookEventMissingSignature(t *testing.T) {
	h := webhookHandler(newFakeStore(), &fakePublisher{})
	body := eventBody("15559998888", "wamid.101", "hi")
	rec := postEvent(t, h, body, "")

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestWebhookEventDuplicateAcknowledged(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	h := webhookHandler(st, pub)

	body := eventBody("15559998888", "wamid.200", "first delivery")
	sig := signBody(body)

	if rec := postEvent(t, h, body, sig); rec.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d", rec.Code)
	}
	rec := postEvent(t, h, body, sig)

	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("duplicate body = %q, want ok acknowledgment", rec.Body.String())
	}
	if st.inboundCount() != 1 {
		t.Errorf("inbound saved = %d, want 1", st.inboundCount())
	}
	// The duplicate path publishes again in case the first attempt lost
	// the job; the broker's duplicate window collapses the extra publish.
	if pub.count() != 2 {
		t.Errorf("jobs published = %d, want 2", pub.count())
	}
}

func TestWebhookEventInsertRaceAcknowledged(t *testing.T) {
	st := newFakeStore()
	st.saveRace = true
	pub := &fakePublisher{}
	h := webhookHandler(st, pub)

	body := eventBody("15559998888", "wamid.201", "racing retry")
	rec := postEvent(t, h, body, signBody(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	// The losing request cannot tell whether the winner published, so it
	// publishes too and relies on broker-side dedup.
	if pub.count() != 1 {
		t.Errorf("jobs published = %d, want 1", pub.count())
	}
}

func TestWebhookEventStatusOnlyIgnored(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	h := webhookHandler(st, pub)

	body := []byte(`{"entry":[{"changes":[{"value":{"metadata":{"display_phone_number":"15550001111"},"statuses":[{"id":"wamid.1","status":"delivered"}]}}]}]}`)
	rec := postEvent(t, h, body, signBody(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if st.inboundCount() != 0 || pub.count() != 0 {
		t.Error("status-only event must not persist or enqueue")
	}
}

func TestWebhookEventStructurallyInvalid(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"empty entry", []byte(`{"entry":[]}`)},
		{"missing sender", []byte(`{"entry":[{"changes":[{"value":{"metadata":{"display_phone_number":"15550001111"},"messages":[{"id":"wamid.9","text":{"body":"x"}}]}}]}]}`)},
		{"missing recipient", []byte(`{"entry":[{"changes":[{"value":{"messages":[{"from":"15559998888","id":"wamid.9","text":{"body":"x"}}]}}]}]}`)},
	}

	h := webhookHandler(newFakeStore(), &fakePublisher{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postEvent(t, h, tt.body, signBody(tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestWebhookEventUnknownRecipient(t *testing.T) {
	st := newFakeStore()
	delete(st.tenants, "15550001111")
	h := webhookHandler(st, &fakePublisher{})

	body := eventBody("15559998888", "wamid.300", "hello")
	rec := postEvent(t, h, body, signBody(body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookEventStorageFailureSurfaces(t *testing.T) {
	st := newFakeStore()
	st.failSave = true
	h := webhookHandler(st, &fakePublisher{})

	body := eventBody("15559998888", "wamid.401", "hello")
	rec := postEvent(t, h, body, signBody(body))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestWebhookEventPublishFailureSurfaces(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{fail: true}
	h := webhookHandler(st, pub)

	body := eventBody("15559998888", "wamid.400", "hello")
	rec := postEvent(t, h, body, signBody(body))

	// A 5xx makes the provider redeliver; dedup absorbs the replayed insert.
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestWebhookEventRedeliveryAfterPublishFailureEnqueues(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{fail: true}
	h := webhookHandler(st, pub)

	body := eventBody("15559998888", "wamid.402", "please reply")
	sig := signBody(body)

	// First attempt persists the inbound row but cannot enqueue.
	if rec := postEvent(t, h, body, sig); rec.Code != http.StatusInternalServerError {
		t.Fatalf("first attempt status = %d, want 500", rec.Code)
	}
	if st.inboundCount() != 1 {
		t.Fatalf("inbound saved = %d, want 1", st.inboundCount())
	}
	if pub.count() != 0 {
		t.Fatalf("jobs published = %d, want 0", pub.count())
	}

	// The provider redelivers once the queue is back. The event is now a
	// known duplicate, but the job must still be enqueued.
	pub.setFail(false)
	rec := postEvent(t, h, body, sig)

	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if st.inboundCount() != 1 {
		t.Errorf("inbound saved = %d, want 1", st.inboundCount())
	}
	if pub.count() != 1 {
		t.Errorf("jobs enqueued after redelivery = %d, want 1", pub.count())
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	tests := []struct {
		name   string
		header string
		secret string
		want   bool
	}{
		{"valid", signBody(body), testAppSecret, true},
		{"wrong secret", signBody(body), "other-secret", false},
		{"no prefix", strings.TrimPrefix(signBody(body), "sha256="), testAppSecret, false},
		{"not hex", "sha256=zzzz", testAppSecret, false},
		{"empty header", "", testAppSecret, false},
		{"empty secret", signBody(body), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := verifySignature(body, tt.header, tt.secret); got != tt.want {
				t.Errorf("verifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}
