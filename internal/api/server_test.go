package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/sop"
)

func apiTemplate() *sop.SOPTemplate {
	min, max := 0.0, 100.0
	return &sop.SOPTemplate{
		ID:   "tpl-clean",
		Name: "Clean room",
		Steps: []sop.SOPStep{
			{ID: "temp", Title: "Record temperature", Order: 1, EvidenceRequired: true, EvidenceType: sop.EvidenceNumeric, MinValue: &min, MaxValue: &max},
			{ID: "note", Title: "Observations", Order: 2, EvidenceRequired: false, EvidenceType: sop.EvidenceText},
			{ID: "confirm", Title: "Confirm done", Order: 3, EvidenceRequired: true, EvidenceType: sop.EvidenceText},
		},
	}
}

func signoffAPITemplate() *sop.SOPTemplate {
	return &sop.SOPTemplate{
		ID:                  "tpl-release",
		Name:                "Release",
		RequiresDualSignoff: true,
		DualSignature:       &sop.DualSignatureConfig{Role1: "supervisor", Role2: "quality"},
		Steps: []sop.SOPStep{
			{ID: "prep", Title: "Prepare", Order: 1, EvidenceRequired: true, EvidenceType: sop.EvidenceText},
			{ID: "signoff", Title: "Release sign-off", Order: 2, EvidenceRequired: true, EvidenceType: sop.EvidenceDualSignature},
		},
	}
}

func newTestServer(t *testing.T, tpls ...*sop.SOPTemplate) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(Options{Templates: tpls}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func startExecution(t *testing.T, srv *httptest.Server, templateID string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/executions", map[string]any{
		"template_id": templateID,
		"started_by":  "op-1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start: status %d body %v", resp.StatusCode, body)
	}
	id, _ := body["task_id"].(string)
	if id == "" {
		t.Fatalf("start: missing task_id in %v", body)
	}
	return id
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health response: %d %v", resp.StatusCode, body)
	}
}

func TestStart_UnknownTemplate(t *testing.T) {
	srv := newTestServer(t, apiTemplate())
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/executions", map[string]any{"template_id": "nope"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestStart_LiveTaskIDConflicts(t *testing.T) {
	srv := newTestServer(t, signoffAPITemplate())
	id := startExecution(t, srv, "tpl-release")

	// A pending signature lives only in the registered sequencer; starting
	// over with the same id must not silently discard it.
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/executions/"+id+"/signatures", map[string]any{
		"signer_id": "u1", "signer_name": "Ana", "role": "supervisor", "payload": []byte("stroke"),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signature: status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/executions", map[string]any{
		"template_id": "tpl-release",
		"task_id":     id,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for a live task id, got %d", resp.StatusCode)
	}

	body := map[string]any{}
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/executions/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("snapshot: status %d", resp.StatusCode)
	}
	missing, _ := body["missing_roles"].([]any)
	if len(missing) != 1 || missing[0] != "quality" {
		t.Fatalf("pending signature was lost: %v", body["missing_roles"])
	}
}

func TestStart_UnregisteredTaskIDIsAccepted(t *testing.T) {
	srv := newTestServer(t, apiTemplate())
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/executions", map[string]any{
		"template_id": "tpl-clean",
		"task_id":     "resume-me",
	})
	if resp.StatusCode != http.StatusCreated || body["task_id"] != "resume-me" {
		t.Fatalf("expected reuse of an unregistered id, got %d %v", resp.StatusCode, body)
	}
}

func TestUnknownExecution(t *testing.T) {
	srv := newTestServer(t, apiTemplate())
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/executions/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestExecutionLifecycle(t *testing.T) {
	srv := newTestServer(t, apiTemplate())
	id := startExecution(t, srv, "tpl-clean")
	base := srv.URL + "/executions/" + id

	// Out-of-range reading is rejected with 422 and moves nothing.
	resp, body := doJSON(t, http.MethodPost, base+"/evidence", map[string]any{"text": "150"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body %v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodGet, base, nil)
	if resp.StatusCode != http.StatusOK || body["step_index"].(float64) != 0 {
		t.Fatalf("rejected capture must not move the index: %v", body)
	}

	// Advancing without evidence is rejected too.
	resp, _ = doJSON(t, http.MethodPost, base+"/advance", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	// Valid reading advances automatically.
	resp, body = doJSON(t, http.MethodPost, base+"/evidence", map[string]any{"text": "42"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("evidence: status %d body %v", resp.StatusCode, body)
	}
	if body["advanced"] != true {
		t.Fatalf("expected advance: %v", body)
	}

	// Optional step skipped with a reason.
	resp, _ = doJSON(t, http.MethodPost, base+"/skip", map[string]any{"reason": "nothing to note"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("skip: status %d", resp.StatusCode)
	}

	// Retreat and come back.
	if resp, _ = doJSON(t, http.MethodPost, base+"/retreat", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("retreat: status %d", resp.StatusCode)
	}
	if resp, _ = doJSON(t, http.MethodPost, base+"/advance", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("advance: status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, base+"/evidence", map[string]any{"text": "all clear"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("evidence: status %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, base+"/complete", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete: status %d body %v", resp.StatusCode, body)
	}
	if body["status"] != string(sop.TaskCompleted) {
		t.Fatalf("expected completed status, got %v", body["status"])
	}

	// A finalized execution conflicts with further mutation.
	resp, _ = doJSON(t, http.MethodPost, base+"/complete", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestAuditTrailEndpoint(t *testing.T) {
	srv := newTestServer(t, apiTemplate())
	id := startExecution(t, srv, "tpl-clean")
	base := srv.URL + "/executions/" + id

	if resp, _ := doJSON(t, http.MethodPost, base+"/evidence", map[string]any{"text": "42"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("evidence: status %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, base+"/audit", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	defer resp.Body.Close()
	var events []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("expected audit events")
	}
	if events[0]["kind"] != "EVIDENCE_CAPTURED" {
		t.Fatalf("unexpected first event: %v", events[0])
	}
}

func TestSignatureGateOverHTTP(t *testing.T) {
	srv := newTestServer(t, signoffAPITemplate())
	id := startExecution(t, srv, "tpl-release")
	base := srv.URL + "/executions/" + id

	if resp, _ := doJSON(t, http.MethodPost, base+"/evidence", map[string]any{"text": "line cleared"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("evidence: status %d", resp.StatusCode)
	}

	// Completion is rejected until both roles sign.
	resp, _ := doJSON(t, http.MethodPost, base+"/complete", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, base+"/signatures", map[string]any{
		"signer_id": "u1", "signer_name": "Ana", "role": "supervisor", "payload": []byte("stroke"),
	})
	if resp.StatusCode != http.StatusOK || body["ready"] != false {
		t.Fatalf("first signature: %d %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodPost, base+"/signatures", map[string]any{
		"signer_id": "u2", "signer_name": "Rui", "role": "janitor", "payload": []byte("stroke"),
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown role, got %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, base+"/signatures", map[string]any{
		"signer_id": "u2", "signer_name": "Rui", "role": "quality", "payload": []byte("stroke"),
	})
	if resp.StatusCode != http.StatusOK || body["ready"] != true {
		t.Fatalf("second signature: %d %v", resp.StatusCode, body)
	}

	if resp, body = doJSON(t, http.MethodPost, base+"/complete", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("complete: status %d body %v", resp.StatusCode, body)
	}
}
