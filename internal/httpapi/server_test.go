package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/svergie/internal/db"
)

func TestHealthz(t *testing.T) {
	t.Parallel()

	server := NewServer(&db.Pool{}, zerolog.Nop(), Options{
		StatusFunc: func() string { return "idle" },
	})
	e := server.buildEcho()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Success {
		t.Fatal("expected success envelope")
	}
	data, ok := body.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T", body.Data)
	}
	if data["service"] != "svergie" {
		t.Errorf("service = %v", data["service"])
	}
	if data["pipeline_state"] != "idle" {
		t.Errorf("pipeline_state = %v", data["pipeline_state"])
	}
}

func TestGroupMembersValidation(t *testing.T) {
	t.Parallel()

	server := NewServer(&db.Pool{}, zerolog.Nop(), Options{})
	e := server.buildEcho()

	for _, raw := range []string{"abc", "-1", "0"} {
		req := httptest.NewRequest(http.MethodGet, "/api/groups/"+raw, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("group_id %q: status = %d, want 400", raw, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Validation failed") {
			t.Errorf("group_id %q: body = %s", raw, rec.Body.String())
		}
	}
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	t.Parallel()

	server := NewServer(&db.Pool{}, zerolog.Nop(), Options{})
	e := server.buildEcho()

	req := httptest.NewRequest(http.MethodGet, "/api/nope", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	var body envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Success || body.Error == nil {
		t.Fatalf("body = %+v, want failure envelope", body)
	}
}

func TestParseID(t *testing.T) {
	t.Parallel()

	if id, err := parseID(" 42 "); err != nil || id != 42 {
		t.Fatalf("parseID(42) = %d, %v", id, err)
	}
	for _, raw := range []string{"", "x", "-3", "0", "1.5"} {
		if _, err := parseID(raw); err == nil {
			t.Errorf("parseID(%q): expected an error", raw)
		}
	}
}
