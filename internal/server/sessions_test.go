package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/internal/session"
	"github.com/homescout/homescout/internal/session/inmemory"
	"github.com/homescout/homescout/internal/store"
)

func getSessions(t *testing.T, h *SessionsHandler, target string, call func(echo.Context) error, names, values []string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames(names...)
	ctx.SetParamValues(values...)
	return rec, call(ctx)
}

func TestSessionSnapshotNotFound(t *testing.T) {
	h := &SessionsHandler{Sessions: inmemory.NewStore()}
	_, err := getSessions(t, h, "/api/sessions/ghost", h.get, []string{"id"}, []string{"ghost"})
	if err == nil {
		t.Fatalf("expected error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 error, got %#v", err)
	}
}

func TestSessionSnapshotReportsCounters(t *testing.T) {
	sessions := inmemory.NewStore()
	if _, err := sessions.Update(context.Background(), "sess-2", time.Hour, func(s *session.State) error {
		s.BeginTurn(streams.ReplyStream("sess-2"))
		s.AppendHistory("user", "find homes in Oakland")
		s.ExpectedSearch = 1
		s.ArrivedSearch = 1
		s.ExpectedGeocode = 2
		s.ArrivedGeocode = 1
		return nil
	}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	h := &SessionsHandler{Sessions: sessions}
	rec, err := getSessions(t, h, "/api/sessions/sess-2", h.get, []string{"id"}, []string{"sess-2"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "sess-2" || resp.Turn != 1 {
		t.Fatalf("unexpected snapshot: %+v", resp)
	}
	if resp.Stage != "geocoding" {
		t.Fatalf("expected stage geocoding, got %s", resp.Stage)
	}
	if resp.Counters.ExpectedGeocode != 2 || resp.Counters.ArrivedGeocode != 1 {
		t.Fatalf("unexpected counters: %+v", resp.Counters)
	}
	if resp.History != 1 {
		t.Fatalf("expected 1 history entry, got %d", resp.History)
	}
	if resp.Finalized {
		t.Fatalf("turn should not be finalized")
	}
}

func TestStageDerivation(t *testing.T) {
	cases := []struct {
		name  string
		state session.State
		want  string
	}{
		{"fresh session", session.State{}, "new"},
		{"awaiting scope", session.State{Turn: 1}, "scoping"},
		{"question in flight", session.State{Turn: 1, ExpectedQa: 1}, "answering"},
		{"search in flight", session.State{Turn: 1, ExpectedSearch: 1}, "searching"},
		{"geocode fan-out", session.State{Turn: 1, ExpectedSearch: 1, ArrivedSearch: 1, ExpectedGeocode: 3, ArrivedGeocode: 1}, "geocoding"},
		{"poi cascade", session.State{Turn: 1, ExpectedSearch: 1, ArrivedSearch: 1, ExpectedGeocode: 2, ArrivedGeocode: 2, ExpectedPoi: 2, ArrivedPoi: 1}, "discovering"},
		{"community pending", session.State{Turn: 1, ExpectedSearch: 1, ArrivedSearch: 1, ExpectedCommunity: 1}, "community"},
		{"all arrived", session.State{Turn: 1, ExpectedSearch: 1, ArrivedSearch: 1}, "assembling"},
		{"finalized", session.State{Turn: 2, ExpectedSearch: 1, ArrivedSearch: 1, Finalized: true}, "assembled"},
	}
	for _, tc := range cases {
		if got := stageOf(&tc.state); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestTurnsRequiresArchive(t *testing.T) {
	h := &SessionsHandler{Sessions: inmemory.NewStore()}
	_, err := getSessions(t, h, "/api/sessions/sess-3/turns", h.turns, []string{"id"}, []string{"sess-3"})
	if err == nil {
		t.Fatalf("expected error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 error, got %#v", err)
	}
}

func TestTurnsListsArchivedHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT id, session_id, turn, role, content, created_at FROM chat_turns WHERE session_id=\$1 ORDER BY id ASC LIMIT \$2`).
		WithArgs("sess-3", 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "turn", "role", "content", "created_at"}).
			AddRow(int64(1), "sess-3", 1, store.TurnRoleUser, "find homes in Oakland", now).
			AddRow(int64(2), "sess-3", 1, store.TurnRoleAssistant, "Found 2 properties.", now))

	h := &SessionsHandler{Sessions: inmemory.NewStore(), Archive: &store.Store{DB: db}}
	rec, err := getSessions(t, h, "/api/sessions/sess-3/turns", h.turns, []string{"id"}, []string{"sess-3"})
	if err != nil {
		t.Fatalf("turns: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp []TurnResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(resp))
	}
	if resp[0].Role != store.TurnRoleUser || resp[1].Role != store.TurnRoleAssistant {
		t.Fatalf("unexpected roles: %+v", resp)
	}
	if resp[1].Content != "Found 2 properties." {
		t.Fatalf("unexpected content %q", resp[1].Content)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestArchivedResponseFetch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT session_id, turn, partial, listing_urls, payload, created_at FROM final_responses WHERE session_id=\$1 AND turn=\$2`).
		WithArgs("sess-4", 2).
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "turn", "partial", "listing_urls", "payload", "created_at"}).
			AddRow("sess-4", 2, false, []byte(`{https://zillow.com/homes/1}`), []byte(`{"search_summary":"Two matches."}`), time.Now()))

	h := &SessionsHandler{Sessions: inmemory.NewStore(), Archive: &store.Store{DB: db}}
	rec, err := getSessions(t, h, "/api/sessions/sess-4/responses/2", h.response, []string{"id", "turn"}, []string{"sess-4", "2"})
	if err != nil {
		t.Fatalf("response: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp ResponseArchive
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Turn != 2 || resp.Partial {
		t.Fatalf("unexpected archive record: %+v", resp)
	}
	if len(resp.ListingURLs) != 1 || resp.ListingURLs[0] != "https://zillow.com/homes/1" {
		t.Fatalf("unexpected listing urls: %v", resp.ListingURLs)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(resp.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["search_summary"] != "Two matches." {
		t.Fatalf("unexpected payload: %v", payload)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestArchivedResponseNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT session_id, turn, partial, listing_urls, payload, created_at FROM final_responses WHERE session_id=\$1 AND turn=\$2`).
		WithArgs("sess-4", 9).
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "turn", "partial", "listing_urls", "payload", "created_at"}))

	h := &SessionsHandler{Sessions: inmemory.NewStore(), Archive: &store.Store{DB: db}}
	_, err = getSessions(t, h, "/api/sessions/sess-4/responses/9", h.response, []string{"id", "turn"}, []string{"sess-4", "9"})
	if err == nil {
		t.Fatalf("expected error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 error, got %#v", err)
	}
}

func TestArchivedResponseRejectsBadTurn(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	h := &SessionsHandler{Sessions: inmemory.NewStore(), Archive: &store.Store{DB: db}}
	_, err = getSessions(t, h, "/api/sessions/sess-4/responses/latest", h.response, []string{"id", "turn"}, []string{"sess-4", "latest"})
	if err == nil {
		t.Fatalf("expected error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 error, got %#v", err)
	}
}
