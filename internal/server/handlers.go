package server

// handlers.go implements the prescription lifecycle endpoints. Handlers
// decode and validate the request shape, delegate to the engine, and map
// results and errors to JSON responses.

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/openrx-networks/rxcred/internal/api"
	"github.com/openrx-networks/rxcred/internal/engine"
	"github.com/openrx-networks/rxcred/internal/revocation"
	"github.com/openrx-networks/rxcred/internal/rx"
	"github.com/openrx-networks/rxcred/internal/version"
)

// issueRequest is the POST /v1/prescriptions payload.
type issueRequest struct {
	IssuerID           string          `json:"issuerId"`
	PatientID          string          `json:"patientId"`
	PrescriberID       string          `json:"prescriberId,omitempty"`
	Medications        []rx.Medication `json:"medications"`
	ValidityDays       int             `json:"validityDays,omitempty"`
	RepeatCount        int             `json:"repeatCount,omitempty"`
	RepeatIntervalDays int             `json:"repeatIntervalDays,omitempty"`
}

// handleIssue godoc
//
//	@Summary		Issue a prescription
//	@Description	Create, sign and register a new prescription credential.
//	@Description	The credential is canonicalized, signed with the configured
//	@Description	algorithm and transitioned to SIGNED.
//	@Tags			Prescriptions
//	@Accept			json
//	@Produce		json
//	@Param			request	body		issueRequest			true	"Prescription to issue"
//	@Success		201		{object}	rx.PrescriptionRecord	"Signed prescription record"
//	@Failure		400		{object}	api.ErrorResponse		"Malformed or incomplete request"
//	@Router			/v1/prescriptions [post]
func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.RespondWithErrorResponse(w, r, api.WrapMalformedRequestError(err, "invalid JSON body"))
		return
	}

	record, err := s.engine.Issue(r.Context(), engine.IssueRequest{
		IssuerID:           req.IssuerID,
		PatientID:          req.PatientID,
		PrescriberID:       req.PrescriberID,
		Medications:        req.Medications,
		ValidityDays:       req.ValidityDays,
		RepeatCount:        req.RepeatCount,
		RepeatIntervalDays: req.RepeatIntervalDays,
	})
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	api.RespondWithJSONPayload(w, http.StatusCreated, record)
}

// handleList godoc
//
//	@Summary	List prescriptions for a patient
//	@Tags		Prescriptions
//	@Produce	json
//	@Param		patientId	query		string				true	"Patient identifier"
//	@Success	200			{object}	map[string]any		"Prescription records"
//	@Failure	400			{object}	api.ErrorResponse	"Missing patientId"
//	@Router		/v1/prescriptions [get]
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	patientID := r.URL.Query().Get("patientId")
	if patientID == "" {
		api.RespondWithErrorResponse(w, r, api.NewMalformedRequestError("patientId query parameter is required"))
		return
	}

	records, err := s.engine.ListByPatient(r.Context(), patientID)
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	api.RespondWithJSONPayload(w, http.StatusOK, map[string]any{"prescriptions": records})
}

// handleGet godoc
//
//	@Summary		Get a prescription
//	@Description	Fetch the current prescription record. Scheduled revocations
//	@Description	and validity expiry are applied before the record is returned.
//	@Tags			Prescriptions
//	@Produce		json
//	@Param			prescriptionID	path		string					true	"Prescription ID"
//	@Success		200				{object}	rx.PrescriptionRecord
//	@Failure		404				{object}	api.ErrorResponse	"Unknown prescription"
//	@Router			/v1/prescriptions/{prescriptionID} [get]
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "prescriptionID")

	record, err := s.engine.Get(r.Context(), id)
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	api.RespondWithJSONPayload(w, http.StatusOK, record)
}

// actorRequest carries the acting party for state-changing requests.
type actorRequest struct {
	Actor string `json:"actor"`
}

// handleActivate godoc
//
//	@Summary	Activate a signed prescription
//	@Tags		Prescriptions
//	@Accept		json
//	@Produce	json
//	@Param		prescriptionID	path		string					true	"Prescription ID"
//	@Param		request			body		actorRequest			true	"Acting party"
//	@Success	200				{object}	rx.PrescriptionRecord
//	@Failure	409				{object}	api.ErrorResponse	"Illegal state transition"
//	@Router		/v1/prescriptions/{prescriptionID}/activation [post]
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "prescriptionID")

	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.RespondWithErrorResponse(w, r, api.WrapMalformedRequestError(err, "invalid JSON body"))
		return
	}
	if req.Actor == "" {
		api.RespondWithErrorResponse(w, r, api.NewMalformedRequestError("actor is required"))
		return
	}

	record, err := s.engine.Activate(r.Context(), id, req.Actor)
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	api.RespondWithJSONPayload(w, http.StatusOK, record)
}

// verifyRequest is the POST /v1/verifications payload: a credential and its
// proof as presented, e.g. decoded from a scanned QR code.
type verifyRequest struct {
	Credential *rx.Credential `json:"credential"`
	Proof      *rx.Proof      `json:"proof"`
}

// verifyResponse reports the verification outcome to the client.
type verifyResponse struct {
	Status             string `json:"status"`
	Detail             string `json:"detail,omitempty"`
	IssuerStatus       string `json:"issuerStatus,omitempty"`
	CredentialChecksum string `json:"credentialChecksum,omitempty"`
	CheckedAt          string `json:"checkedAt"`
}

// handleVerify godoc
//
//	@Summary		Verify a presented credential
//	@Description	Check a credential and proof as presented by a patient,
//	@Description	e.g. decoded from a QR code. The outcome is always 200;
//	@Description	the verification status is in the response body.
//	@Tags			Verification
//	@Accept			json
//	@Produce		json
//	@Param			request	body		verifyRequest	true	"Credential and proof"
//	@Success		200		{object}	verifyResponse
//	@Failure		400		{object}	api.ErrorResponse	"Malformed request"
//	@Router			/v1/verifications [post]
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.RespondWithErrorResponse(w, r, api.WrapMalformedRequestError(err, "invalid JSON body"))
		return
	}
	if req.Credential == nil {
		api.RespondWithErrorResponse(w, r, api.NewMalformedRequestError("credential is required"))
		return
	}

	result := s.engine.Verify(r.Context(), req.Credential, req.Proof)

	api.RespondWithJSONPayload(w, http.StatusOK, verifyResponse{
		Status:             result.Status.String(),
		Detail:             result.Detail,
		IssuerStatus:       string(result.IssuerStatus),
		CredentialChecksum: result.CredentialChecksum,
		CheckedAt:          result.CheckedAt.Format(time.RFC3339),
	})
}

// dispenseRequest is the POST dispensings payload.
type dispenseRequest struct {
	Quantity    int                   `json:"quantity"`
	DispenserID string                `json:"dispenserId"`
	Override    *rx.EmergencyOverride `json:"override,omitempty"`
}

// handleDispense godoc
//
//	@Summary		Record a dispensing event
//	@Description	Dispense against the prescription's repeat authorization.
//	@Description	Early attempts are rejected with the days remaining and the
//	@Description	next eligible date in the error detail.
//	@Tags			Prescriptions
//	@Accept			json
//	@Produce		json
//	@Param			prescriptionID	path		string					true	"Prescription ID"
//	@Param			request			body		dispenseRequest			true	"Dispense details"
//	@Success		201				{object}	rx.PrescriptionRecord
//	@Failure		409				{object}	api.ErrorResponse	"Too early, exhausted, revoked or expired"
//	@Router			/v1/prescriptions/{prescriptionID}/dispensings [post]
func (s *Server) handleDispense(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "prescriptionID")

	var req dispenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.RespondWithErrorResponse(w, r, api.WrapMalformedRequestError(err, "invalid JSON body"))
		return
	}

	record, err := s.engine.Dispense(r.Context(), id, engine.DispenseRequest{
		Quantity:    req.Quantity,
		DispenserID: req.DispenserID,
		Override:    req.Override,
	})
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	api.RespondWithJSONPayload(w, http.StatusCreated, record)
}

// eligibilityResponse reports whether a dispense may proceed right now.
type eligibilityResponse struct {
	Status        string `json:"status"`
	DaysRemaining int    `json:"daysRemaining,omitempty"`
	NextEligible  string `json:"nextEligible,omitempty"`
}

// handleEligibility godoc
//
//	@Summary	Check dispense eligibility
//	@Tags		Prescriptions
//	@Produce	json
//	@Param		prescriptionID	path		string	true	"Prescription ID"
//	@Success	200				{object}	eligibilityResponse
//	@Failure	404				{object}	api.ErrorResponse	"Unknown prescription"
//	@Router		/v1/prescriptions/{prescriptionID}/eligibility [get]
func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "prescriptionID")

	eligibility, err := s.engine.CheckEligibility(r.Context(), id)
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	resp := eligibilityResponse{Status: eligibility.Status.String()}
	if eligibility.Status == rx.TooEarly {
		resp.DaysRemaining = eligibility.DaysRemaining
		resp.NextEligible = eligibility.NextEligible.Format(time.RFC3339)
	}

	api.RespondWithJSONPayload(w, http.StatusOK, resp)
}

// revokeRequest is the revocation payload, shared by the single and bulk endpoints.
type revokeRequest struct {
	Reason           string   `json:"reason"`
	RevokedBy        string   `json:"revokedBy"`
	EffectiveAt      string   `json:"effectiveAt,omitempty"`
	Reversible       bool     `json:"reversible,omitempty"`
	RollbackDeadline string   `json:"rollbackDeadline,omitempty"`
	PrescriptionIDs  []string `json:"prescriptionIds,omitempty"`
}

func (r *revokeRequest) toDomain() (revocation.Request, error) {
	req := revocation.Request{
		Reason:     r.Reason,
		RevokedBy:  r.RevokedBy,
		Reversible: r.Reversible,
	}

	if r.EffectiveAt != "" {
		t, err := time.Parse(time.RFC3339, r.EffectiveAt)
		if err != nil {
			return revocation.Request{}, api.WrapMalformedRequestError(err, "invalid effectiveAt timestamp")
		}
		req.EffectiveAt = &t
	}
	if r.RollbackDeadline != "" {
		t, err := time.Parse(time.RFC3339, r.RollbackDeadline)
		if err != nil {
			return revocation.Request{}, api.WrapMalformedRequestError(err, "invalid rollbackDeadline timestamp")
		}
		req.RollbackDeadline = &t
	}

	return req, nil
}

// handleRevoke godoc
//
//	@Summary		Revoke a prescription
//	@Description	Revoke immediately or schedule a future revocation. A
//	@Description	scheduled revocation takes effect on the first read at or
//	@Description	after its effective time.
//	@Tags			Revocation
//	@Accept			json
//	@Produce		json
//	@Param			prescriptionID	path		string					true	"Prescription ID"
//	@Param			request			body		revokeRequest			true	"Revocation request"
//	@Success		200				{object}	rx.PrescriptionRecord
//	@Failure		409				{object}	api.ErrorResponse	"Revocation not permitted"
//	@Router			/v1/prescriptions/{prescriptionID}/revocation [post]
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "prescriptionID")

	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.RespondWithErrorResponse(w, r, api.WrapMalformedRequestError(err, "invalid JSON body"))
		return
	}

	domainReq, err := req.toDomain()
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	record, err := s.engine.Revoke(r.Context(), id, domainReq)
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	api.RespondWithJSONPayload(w, http.StatusOK, record)
}

// handleBulkRevoke godoc
//
//	@Summary		Revoke a batch of prescriptions
//	@Description	Revoke several prescriptions in one request, e.g. for a
//	@Description	product recall. Each prescription is processed independently
//	@Description	and the response reports the outcome per ID.
//	@Tags			Revocation
//	@Accept			json
//	@Produce		json
//	@Param			request	body		revokeRequest		true	"Revocation request with prescriptionIds"
//	@Success		200		{object}	map[string]any		"Per-prescription results"
//	@Failure		400		{object}	api.ErrorResponse	"Missing prescriptionIds"
//	@Router			/v1/revocations [post]
func (s *Server) handleBulkRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.RespondWithErrorResponse(w, r, api.WrapMalformedRequestError(err, "invalid JSON body"))
		return
	}
	if len(req.PrescriptionIDs) == 0 {
		api.RespondWithErrorResponse(w, r, api.NewMalformedRequestError("prescriptionIds is required"))
		return
	}

	domainReq, err := req.toDomain()
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	results := s.engine.BulkRevoke(r.Context(), req.PrescriptionIDs, domainReq)

	api.RespondWithJSONPayload(w, http.StatusOK, map[string]any{"results": results})
}

// handleRollbackRevocation godoc
//
//	@Summary		Roll back a revocation
//	@Description	Reverse a reversible revocation before its deadline and
//	@Description	restore the prescription's prior state.
//	@Tags			Revocation
//	@Accept			json
//	@Produce		json
//	@Param			prescriptionID	path		string					true	"Prescription ID"
//	@Param			request			body		actorRequest			true	"Acting party"
//	@Success		200				{object}	rx.PrescriptionRecord
//	@Failure		409				{object}	api.ErrorResponse	"Rollback not permitted"
//	@Router			/v1/prescriptions/{prescriptionID}/revocation [delete]
func (s *Server) handleRollbackRevocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "prescriptionID")

	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.RespondWithErrorResponse(w, r, api.WrapMalformedRequestError(err, "invalid JSON body"))
		return
	}
	if req.Actor == "" {
		api.RespondWithErrorResponse(w, r, api.NewMalformedRequestError("actor is required"))
		return
	}

	record, err := s.engine.RollbackRevocation(r.Context(), id, req.Actor)
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	api.RespondWithJSONPayload(w, http.StatusOK, record)
}

// handleRevocationImpact godoc
//
//	@Summary	Preview the impact of revoking now
//	@Tags		Revocation
//	@Produce	json
//	@Param		prescriptionID	path		string	true	"Prescription ID"
//	@Success	200				{object}	revocation.ImpactReport
//	@Failure	404				{object}	api.ErrorResponse	"Unknown prescription"
//	@Router		/v1/prescriptions/{prescriptionID}/revocation/impact [get]
func (s *Server) handleRevocationImpact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "prescriptionID")

	report, err := s.engine.PreviewRevocationImpact(r.Context(), id)
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	api.RespondWithJSONPayload(w, http.StatusOK, report)
}

// handleAuditTrail godoc
//
//	@Summary	Get the audit trail
//	@Tags		Audit
//	@Produce	json
//	@Param		prescriptionID	path		string				true	"Prescription ID"
//	@Success	200				{object}	map[string]any		"Ordered audit entries"
//	@Failure	404				{object}	api.ErrorResponse	"Unknown prescription"
//	@Router		/v1/prescriptions/{prescriptionID}/audit [get]
func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "prescriptionID")

	entries, err := s.engine.AuditTrail(r.Context(), id)
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	api.RespondWithJSONPayload(w, http.StatusOK, map[string]any{"entries": entries})
}

// auditVerificationResponse reports the outcome of an audit chain check.
type auditVerificationResponse struct {
	Intact   bool   `json:"intact"`
	BrokenAt uint64 `json:"brokenAt,omitempty"`
}

// handleAuditVerification godoc
//
//	@Summary		Verify the audit chain
//	@Description	Recompute the hash chain for the prescription's audit trail
//	@Description	and report whether it is intact.
//	@Tags			Audit
//	@Produce		json
//	@Param			prescriptionID	path		string	true	"Prescription ID"
//	@Success		200				{object}	auditVerificationResponse
//	@Failure		404				{object}	api.ErrorResponse	"Unknown prescription"
//	@Router			/v1/prescriptions/{prescriptionID}/audit/verification [get]
func (s *Server) handleAuditVerification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "prescriptionID")

	verification, err := s.engine.VerifyAuditChain(r.Context(), id)
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	api.RespondWithJSONPayload(w, http.StatusOK, auditVerificationResponse{
		Intact:   verification.Intact,
		BrokenAt: verification.BrokenAt,
	})
}

// handleHealth godoc
//
//	@Summary	Health check
//	@Tags		Common
//	@Produce	json
//	@Success	200	{object}	map[string]string	"status healthy"
//	@Router		/health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// handleVersion godoc
//
//	@Summary	Service version
//	@Tags		Common
//	@Produce	json
//	@Success	200	{object}	version.Info
//	@Router		/version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	api.RespondWithJSONPayload(w, http.StatusOK, version.Get())
}

// handleJWKS godoc
//
//	@Summary		Issuer public keys (JWKS)
//	@Description	Publishes the issuer's public signing key so external
//	@Description	verifiers can validate EdDSA proofs. The set is empty when
//	@Description	signing uses a shared HMAC secret, which is never published.
//	@Tags			Common
//	@Produce		json
//	@Success		200	{object}	map[string]any	"JWK set"
//	@Router			/.well-known/jwks.json [get]
func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	keySet := jwk.NewSet()
	if s.signingJWK != nil {
		if err := keySet.AddKey(s.signingJWK); err != nil {
			api.RespondWithErrorResponse(w, r, rx.WrapInternalError(err, "failed to build JWKS"))
			return
		}
	}
	api.RespondWithJSONPayload(w, http.StatusOK, keySet)
}
