package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openrx-networks/rxcred/internal/api"
	"github.com/openrx-networks/rxcred/internal/config"
	"github.com/openrx-networks/rxcred/internal/crypto"
	"github.com/openrx-networks/rxcred/internal/engine"
	"github.com/openrx-networks/rxcred/internal/registry"
	"github.com/openrx-networks/rxcred/internal/rx"
	"github.com/openrx-networks/rxcred/internal/store"
)

type testClock struct {
	now time.Time
}

func newTestServer(t *testing.T) (*Server, *testClock) {
	t.Helper()

	signer, err := crypto.NewHMACSigner([]byte("handler-test-secret"))
	if err != nil {
		t.Fatalf("NewHMACSigner() error: %v", err)
	}

	reg := registry.New(
		&registry.TrustedIssuer{IssuerID: "nhs-trust-001", Name: "Test Trust", Status: registry.IssuerStatusTrusted},
	)

	clock := &testClock{now: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}

	eng := engine.New(store.NewMemoryStore(), signer, reg, slog.New(slog.DiscardHandler)).
		WithClock(func() time.Time { return clock.now })

	cfg := &config.ServerEnvironment{
		Environment:         "test",
		MaxRequestBodyBytes: 1 << 20,
		RateLimitRPS:        1000,
		RateLimitBurst:      1000,
	}

	return NewServer(eng, cfg, slog.New(slog.DiscardHandler), nil), clock
}

func doRequest(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.NewDecoder(recorder.Body).Decode(target); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
}

func issueViaAPI(t *testing.T, server *Server, repeats, intervalDays int) rx.PrescriptionRecord {
	t.Helper()

	recorder := doRequest(t, server, http.MethodPost, "/v1/prescriptions", map[string]any{
		"issuerId":  "nhs-trust-001",
		"patientId": "patient-42",
		"medications": []map[string]any{
			{"name": "Amoxicillin", "strength": "500mg", "form": "capsule", "quantity": 21},
		},
		"repeatCount":        repeats,
		"repeatIntervalDays": intervalDays,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("issue returned %d: %s", recorder.Code, recorder.Body.String())
	}

	var record rx.PrescriptionRecord
	decodeBody(t, recorder, &record)
	return record
}

func TestIssueEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	record := issueViaAPI(t, server, 3, 28)

	if record.Status != rx.StatusSigned {
		t.Errorf("status = %s, want SIGNED", record.Status)
	}
	if record.Proof == nil || record.Proof.Value == "" {
		t.Error("response carries no proof")
	}
	if record.Repeats == nil || record.Repeats.RemainingCount != 3 {
		t.Errorf("repeats = %+v, want 3 remaining", record.Repeats)
	}
}

func TestIssueMalformedBody(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/prescriptions", strings.NewReader("{not json"))
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}

	var errResp api.ErrorResponse
	decodeBody(t, recorder, &errResp)
	if len(errResp.Errors) != 1 || errResp.Errors[0].ErrorCode != string(api.ErrCodeMalformedRequest) {
		t.Errorf("errors = %+v, want malformed_request", errResp.Errors)
	}
	if errResp.HTTPMethod != http.MethodPost {
		t.Errorf("httpMethod = %s, want POST", errResp.HTTPMethod)
	}
}

func TestGetUnknownPrescription(t *testing.T) {
	server, _ := newTestServer(t)

	recorder := doRequest(t, server, http.MethodGet, "/v1/prescriptions/no-such-id", nil)

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}

	var errResp api.ErrorResponse
	decodeBody(t, recorder, &errResp)
	if len(errResp.Errors) != 1 || errResp.Errors[0].ErrorCode != string(rx.ErrCodeNotFound) {
		t.Errorf("errors = %+v, want NOT_FOUND", errResp.Errors)
	}
}

func TestActivateRequiresActor(t *testing.T) {
	server, _ := newTestServer(t)
	record := issueViaAPI(t, server, 1, 0)

	path := fmt.Sprintf("/v1/prescriptions/%s/activation", record.ID)

	recorder := doRequest(t, server, http.MethodPost, path, map[string]any{})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}

	recorder = doRequest(t, server, http.MethodPost, path, map[string]any{"actor": "pharmacy-1"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", recorder.Code, recorder.Body.String())
	}

	var activated rx.PrescriptionRecord
	decodeBody(t, recorder, &activated)
	if activated.Status != rx.StatusActive {
		t.Errorf("status = %s, want ACTIVE", activated.Status)
	}
}

// an early dispense is rejected with remediation data the dispenser can show
// the patient
func TestDispenseTooEarlyResponse(t *testing.T) {
	server, clock := newTestServer(t)
	record := issueViaAPI(t, server, 3, 28)

	activatePath := fmt.Sprintf("/v1/prescriptions/%s/activation", record.ID)
	if recorder := doRequest(t, server, http.MethodPost, activatePath, map[string]any{"actor": "pharmacy-1"}); recorder.Code != http.StatusOK {
		t.Fatalf("activation returned %d", recorder.Code)
	}

	dispensePath := fmt.Sprintf("/v1/prescriptions/%s/dispensings", record.ID)
	dispenseBody := map[string]any{"quantity": 30, "dispenserId": "pharmacy-1"}

	if recorder := doRequest(t, server, http.MethodPost, dispensePath, dispenseBody); recorder.Code != http.StatusCreated {
		t.Fatalf("first dispense returned %d: %s", recorder.Code, recorder.Body.String())
	}

	clock.now = clock.now.AddDate(0, 0, 10)

	recorder := doRequest(t, server, http.MethodPost, dispensePath, dispenseBody)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("early dispense returned %d, want 409: %s", recorder.Code, recorder.Body.String())
	}

	var errResp api.ErrorResponse
	decodeBody(t, recorder, &errResp)
	if len(errResp.Errors) != 1 {
		t.Fatalf("errors = %+v, want one entry", errResp.Errors)
	}
	detail := errResp.Errors[0]
	if detail.ErrorCode != string(rx.ErrCodeTooEarly) {
		t.Errorf("errorCode = %s, want TOO_EARLY", detail.ErrorCode)
	}
	if detail.DaysRemaining != 18 {
		t.Errorf("daysRemaining = %d, want 18", detail.DaysRemaining)
	}
	if detail.NextEligible == "" {
		t.Error("nextEligible not set")
	}

	// eligibility endpoint reports the same remediation data
	eligibilityPath := fmt.Sprintf("/v1/prescriptions/%s/eligibility", record.ID)
	recorder = doRequest(t, server, http.MethodGet, eligibilityPath, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("eligibility returned %d", recorder.Code)
	}

	var eligibility struct {
		Status        string `json:"status"`
		DaysRemaining int    `json:"daysRemaining"`
	}
	decodeBody(t, recorder, &eligibility)
	if eligibility.Status != "TOO_EARLY" || eligibility.DaysRemaining != 18 {
		t.Errorf("eligibility = %+v, want TOO_EARLY with 18 days", eligibility)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	record := issueViaAPI(t, server, 3, 28)

	recorder := doRequest(t, server, http.MethodPost, "/v1/verifications", map[string]any{
		"credential": record.Credential,
		"proof":      record.Proof,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("verify returned %d: %s", recorder.Code, recorder.Body.String())
	}

	var result struct {
		Status             string `json:"status"`
		CredentialChecksum string `json:"credentialChecksum"`
	}
	decodeBody(t, recorder, &result)
	if result.Status != "VALID" {
		t.Errorf("status = %s, want VALID", result.Status)
	}
	if result.CredentialChecksum == "" {
		t.Error("credentialChecksum not set")
	}

	// a modified credential no longer matches its proof
	tampered := record.Credential
	tampered.Medications = append([]rx.Medication(nil), record.Credential.Medications...)
	tampered.Medications[0].Quantity = 999

	recorder = doRequest(t, server, http.MethodPost, "/v1/verifications", map[string]any{
		"credential": tampered,
		"proof":      record.Proof,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("verify returned %d", recorder.Code)
	}

	decodeBody(t, recorder, &result)
	if result.Status != "TAMPERED" {
		t.Errorf("status = %s, want TAMPERED", result.Status)
	}
}

func TestRevocationEndpoints(t *testing.T) {
	server, _ := newTestServer(t)
	record := issueViaAPI(t, server, 3, 0)

	activatePath := fmt.Sprintf("/v1/prescriptions/%s/activation", record.ID)
	if recorder := doRequest(t, server, http.MethodPost, activatePath, map[string]any{"actor": "pharmacy-1"}); recorder.Code != http.StatusOK {
		t.Fatalf("activation returned %d", recorder.Code)
	}

	impactPath := fmt.Sprintf("/v1/prescriptions/%s/revocation/impact", record.ID)
	recorder := doRequest(t, server, http.MethodGet, impactPath, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("impact returned %d: %s", recorder.Code, recorder.Body.String())
	}

	var report struct {
		RemainingRepeatsForfeited int `json:"remainingRepeatsForfeited"`
	}
	decodeBody(t, recorder, &report)
	if report.RemainingRepeatsForfeited != 3 {
		t.Errorf("remainingRepeatsForfeited = %d, want 3", report.RemainingRepeatsForfeited)
	}

	revokePath := fmt.Sprintf("/v1/prescriptions/%s/revocation", record.ID)
	recorder = doRequest(t, server, http.MethodPost, revokePath, map[string]any{
		"reason":           "prescribing error",
		"revokedBy":        "dr-jones",
		"reversible":       true,
		"rollbackDeadline": "2026-02-08T12:00:00Z",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("revoke returned %d: %s", recorder.Code, recorder.Body.String())
	}

	var revoked rx.PrescriptionRecord
	decodeBody(t, recorder, &revoked)
	if revoked.Status != rx.StatusRevoked {
		t.Errorf("status = %s, want REVOKED", revoked.Status)
	}

	req := httptest.NewRequest(http.MethodDelete, revokePath, strings.NewReader(`{"actor":"dr-jones"}`))
	rollbackRecorder := httptest.NewRecorder()
	server.Router().ServeHTTP(rollbackRecorder, req)
	if rollbackRecorder.Code != http.StatusOK {
		t.Fatalf("rollback returned %d: %s", rollbackRecorder.Code, rollbackRecorder.Body.String())
	}

	var restored rx.PrescriptionRecord
	decodeBody(t, rollbackRecorder, &restored)
	if restored.Status != rx.StatusActive {
		t.Errorf("status after rollback = %s, want ACTIVE", restored.Status)
	}
}

func TestBulkRevokeEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	a := issueViaAPI(t, server, 1, 0)
	b := issueViaAPI(t, server, 1, 0)

	recorder := doRequest(t, server, http.MethodPost, "/v1/revocations", map[string]any{
		"reason":          "product recall",
		"revokedBy":       "regulator",
		"prescriptionIds": []string{a.ID, "missing-id", b.ID},
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("bulk revoke returned %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp struct {
		Results []struct {
			PrescriptionID string `json:"prescriptionId"`
			Revoked        bool   `json:"revoked"`
			Error          string `json:"error"`
		} `json:"results"`
	}
	decodeBody(t, recorder, &resp)
	if len(resp.Results) != 3 {
		t.Fatalf("results = %d entries, want 3", len(resp.Results))
	}
	if !resp.Results[0].Revoked || resp.Results[1].Revoked || !resp.Results[2].Revoked {
		t.Errorf("results = %+v, want success,failure,success", resp.Results)
	}
}

func TestAuditEndpoints(t *testing.T) {
	server, _ := newTestServer(t)
	record := issueViaAPI(t, server, 1, 0)

	auditPath := fmt.Sprintf("/v1/prescriptions/%s/audit", record.ID)
	recorder := doRequest(t, server, http.MethodGet, auditPath, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("audit trail returned %d", recorder.Code)
	}

	var trail struct {
		Entries []struct {
			SequenceNumber uint64 `json:"sequenceNumber"`
			Action         string `json:"action"`
		} `json:"entries"`
	}
	decodeBody(t, recorder, &trail)
	if len(trail.Entries) != 2 {
		t.Fatalf("trail has %d entries, want 2", len(trail.Entries))
	}
	if trail.Entries[0].Action != "SIGN" {
		t.Errorf("first action = %s, want SIGN", trail.Entries[0].Action)
	}

	verificationPath := fmt.Sprintf("/v1/prescriptions/%s/audit/verification", record.ID)
	recorder = doRequest(t, server, http.MethodGet, verificationPath, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("audit verification returned %d", recorder.Code)
	}

	var verification struct {
		Intact bool `json:"intact"`
	}
	decodeBody(t, recorder, &verification)
	if !verification.Intact {
		t.Error("audit chain reported broken")
	}
}

func TestListByPatient(t *testing.T) {
	server, _ := newTestServer(t)
	issueViaAPI(t, server, 1, 0)
	issueViaAPI(t, server, 1, 0)

	recorder := doRequest(t, server, http.MethodGet, "/v1/prescriptions?patientId=patient-42", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("list returned %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp struct {
		Prescriptions []rx.PrescriptionRecord `json:"prescriptions"`
	}
	decodeBody(t, recorder, &resp)
	if len(resp.Prescriptions) != 2 {
		t.Errorf("list has %d records, want 2", len(resp.Prescriptions))
	}

	recorder = doRequest(t, server, http.MethodGet, "/v1/prescriptions", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("list without patientId returned %d, want 400", recorder.Code)
	}
}

func TestHealthVersionAndJWKS(t *testing.T) {
	server, _ := newTestServer(t)

	recorder := doRequest(t, server, http.MethodGet, "/health", nil)
	if recorder.Code != http.StatusOK {
		t.Errorf("health returned %d", recorder.Code)
	}

	recorder = doRequest(t, server, http.MethodGet, "/version", nil)
	if recorder.Code != http.StatusOK {
		t.Errorf("version returned %d", recorder.Code)
	}

	// HMAC deployments publish an empty key set
	recorder = doRequest(t, server, http.MethodGet, "/.well-known/jwks.json", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("jwks returned %d", recorder.Code)
	}
	var jwks struct {
		Keys []json.RawMessage `json:"keys"`
	}
	decodeBody(t, recorder, &jwks)
	if len(jwks.Keys) != 0 {
		t.Errorf("jwks has %d keys, want 0", len(jwks.Keys))
	}
}

func TestRequestSizeLimit(t *testing.T) {
	server, _ := newTestServer(t)

	oversized := strings.Repeat("a", (1<<20)+1)
	body := fmt.Sprintf(`{"issuerId":"nhs-trust-001","patientId":%q}`, oversized)

	req := httptest.NewRequest(http.MethodPost, "/v1/prescriptions", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusRequestEntityTooLarge && recorder.Code != http.StatusBadRequest {
		t.Errorf("oversized request returned %d, want 413 or 400", recorder.Code)
	}
}
