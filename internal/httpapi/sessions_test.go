package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleListSessionsEmpty(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions?agentId=ceo", nil)
	rec := httptest.NewRecorder()

	s.handleListSessions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleSessionHistoryRequiresSessionRef(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/history", nil)
	rec := httptest.NewRecorder()

	s.handleSessionHistory(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleMessageRequiresAgentAndSessionRef(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"message": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/message", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleMessage(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFilteredImagesKeepsOnlyImageMediaType(t *testing.T) {
	in := []imageBody{
		{DataURL: "data:image/png;base64,aaaa", MediaType: "image/png", Name: "a.png"},
		{DataURL: "data:application/pdf;base64,bbbb", MediaType: "application/pdf", Name: "b.pdf"},
	}
	out := filteredImages(in)
	if len(out) != 1 {
		t.Fatalf("expected 1 filtered image, got %d", len(out))
	}
	if out[0].Name != "a.png" {
		t.Fatalf("expected a.png to survive filtering, got %q", out[0].Name)
	}
}
