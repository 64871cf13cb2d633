package roster_api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"ms-roster/internal/apperr"
	"ms-roster/internal/auth"
	"ms-roster/internal/bookings"
	bookingsdb "ms-roster/internal/bookings/db"
	"ms-roster/internal/database/dbtest"
	"ms-roster/internal/events"
	"ms-roster/internal/fields"
	fieldsdb "ms-roster/internal/fields/db"
	"ms-roster/internal/logger"
	"ms-roster/internal/manifest"
	"ms-roster/internal/models"
	"ms-roster/internal/sse"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	mu       sync.Mutex
	requests []models.SyncRequest
	err      error
	events   []models.SyncProgress
}

func (f *fakeSyncer) Start(ctx context.Context, req models.SyncRequest) (<-chan models.SyncProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan models.SyncProgress, len(f.events))
	for _, p := range f.events {
		ch <- p
	}
	close(ch)
	return ch, nil
}

type testAPI struct {
	handler *Handler
	router  http.Handler
	store   *bookingsdb.DB
	syncer  *fakeSyncer
}

func newTestAPI(t *testing.T) *testAPI {
	bunDB := dbtest.New(t)
	log := logger.NewNopLogger()
	store := bookingsdb.New(bunDB)
	registry := fields.NewRegistry(fieldsdb.New(bunDB), log)
	builder := manifest.NewBuilder(store, registry, log)
	fs := &fakeSyncer{}

	h := NewHandler(
		events.NewEventService(store, builder, log),
		bookings.NewBookingService(store, registry, nil, log),
		registry,
		builder,
		fs,
		sse.NewSyncEventEmitter(),
		log,
	)
	return &testAPI{handler: h, router: h.Router(nil), store: store, syncer: fs}
}

func (a *testAPI) seedEvent(t *testing.T, id, name string) {
	_, err := a.store.UpsertEventFromSync(context.Background(), models.EventSync{ID: id, Name: name})
	require.NoError(t, err)
}

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Error   string            `json:"error"`
	Fields  map[string]string `json:"fields"`
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(auth.WithOperator(req.Context(), "ops@agency"))
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	rec, env := a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	a.handler.Ping = func(ctx context.Context) error { return errors.New("db down") }
	rec, env = a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "db down", env.Error)
}

func TestManualBookingLifecycle(t *testing.T) {
	a := newTestAPI(t)
	a.seedEvent(t, "501", "Gita Assisi")

	rec, env := a.do(t, http.MethodPost, "/api/events/501/bookings", map[string]interface{}{
		"firstName":        "Mario",
		"lastName":         "Rossi",
		"participantCount": 2,
		"dynamicFields":    map[string]string{"pa_fermata": "Milano"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var mb models.ManualBooking
	require.NoError(t, json.Unmarshal(env.Data, &mb))
	assert.Equal(t, "ops@agency", mb.CreatedBy)
	assert.Equal(t, 2, mb.ParticipantCount)

	rec, env = a.do(t, http.MethodGet, "/api/events/501/bookings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.ManualBooking
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)

	rec, env = a.do(t, http.MethodGet, "/api/events/501/manifest?mode=compact", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var m manifest.Manifest
	require.NoError(t, json.Unmarshal(env.Data, &m))
	assert.Equal(t, 2, m.Totals.Rows)
	assert.Equal(t, 2, m.Totals.FromManual)
	assert.Equal(t, manifest.Compact, m.DisplayMode)

	rec, _ = a.do(t, http.MethodGet, "/api/fields?eventId=501", nil)
	assert.Contains(t, rec.Body.String(), `"pa_fermata"`)

	rec, _ = a.do(t, http.MethodDelete, "/api/bookings/"+mb.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = a.do(t, http.MethodDelete, "/api/bookings/"+mb.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateManualBookingValidation(t *testing.T) {
	a := newTestAPI(t)
	a.seedEvent(t, "501", "Gita Assisi")

	rec, env := a.do(t, http.MethodPost, "/api/events/501/bookings", map[string]interface{}{
		"firstName":        "Mario",
		"lastName":         "",
		"participantCount": 0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Fields, "lastName")
	assert.Contains(t, env.Fields, "participantCount")

	rec, env = a.do(t, http.MethodPost, "/api/events/501/bookings", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "request body is empty", env.Message)

	rec, _ = a.do(t, http.MethodPost, "/api/events/404/bookings", map[string]interface{}{
		"firstName": "Mario", "lastName": "Rossi", "participantCount": 1,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventTransitions(t *testing.T) {
	a := newTestAPI(t)
	a.seedEvent(t, "501", "Gita Assisi")

	rec, env := a.do(t, http.MethodPost, "/api/events/501/status", map[string]string{"status": "CONFIRMED"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ev models.Event
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Equal(t, models.EventConfirmed, ev.Status)

	rec, _ = a.do(t, http.MethodPost, "/api/events/501/status", map[string]string{"status": "CANCELLED"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = a.do(t, http.MethodPost, "/api/events/501/status", map[string]string{"status": "CONFIRMED"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, env.Error, "accepts no further changes")

	rec, _ = a.do(t, http.MethodPost, "/api/events/501/status", map[string]string{"status": "LOST"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.do(t, http.MethodPost, "/api/events/999/status", map[string]string{"status": "CONFIRMED"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventMetaAndSummary(t *testing.T) {
	a := newTestAPI(t)
	a.seedEvent(t, "501", "Gita Assisi")

	rec, env := a.do(t, http.MethodPatch, "/api/events/501", map[string]interface{}{
		"minParticipants": 10,
		"isPinned":        true,
		"notes":           "bus da 50 posti",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ev models.Event
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.True(t, ev.IsPinned)
	assert.Equal(t, 10, ev.MinParticipants)

	rec, _ = a.do(t, http.MethodPatch, "/api/events/501", map[string]interface{}{"minParticipants": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = a.do(t, http.MethodGet, "/api/events/501", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary events.Summary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, "bus da 50 posti", summary.Event.Notes)
	assert.NotEmpty(t, summary.AllowedTransitions)

	rec, env = a.do(t, http.MethodGet, "/api/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var idx events.Index
	require.NoError(t, json.Unmarshal(env.Data, &idx))
	require.Len(t, idx.Pinned, 1)
	assert.Equal(t, "501", idx.Pinned[0].ID)

	rec, _ = a.do(t, http.MethodGet, "/api/events/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManifestQueryValidation(t *testing.T) {
	a := newTestAPI(t)
	a.seedEvent(t, "501", "Gita Assisi")

	rec, env := a.do(t, http.MethodGet, "/api/events/501/manifest?mode=wide", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Fields, "mode")

	rec, env = a.do(t, http.MethodGet, "/api/events/501/manifest?includeHidden=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Fields, "includeHidden")
}

func TestManifestOptions(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?fields=pa_fermata,%20cognome,,&includeHidden&seats=false", nil)
	opts, err := manifestOptions(req.URL.Query())
	require.NoError(t, err)
	assert.Equal(t, []string{"pa_fermata", "cognome"}, opts.SelectedKeys)
	assert.Equal(t, manifest.Headers, opts.DisplayMode)
	assert.True(t, opts.IncludeHidden)
	assert.False(t, opts.ExcludeUnconfirmed)
	require.NotNil(t, opts.SeatBreakdown)
	assert.False(t, *opts.SeatBreakdown)
}

func TestOrderEndpoints(t *testing.T) {
	a := newTestAPI(t)
	a.seedEvent(t, "501", "Gita Assisi")
	_, _, err := a.store.UpsertOrder(context.Background(), models.OrderRecord{
		ExternalID:  "1001",
		Status:      "processing",
		DateCreated: time.Date(2025, time.April, 10, 9, 30, 0, 0, time.UTC),
		Billing:     models.Contact{FirstName: "Anna", LastName: "Rossi"},
		LineItems:   []models.LineItem{{ExternalItemID: "11", EventID: "501", Quantity: 1, Confirmed: true}},
	})
	require.NoError(t, err)

	rec, env := a.do(t, http.MethodPatch, "/api/orders/1001", map[string]string{"adminNotes": "allergia noci"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var o models.OrderRecord
	require.NoError(t, json.Unmarshal(env.Data, &o))
	assert.True(t, o.ManuallyModified)
	assert.Equal(t, "ops@agency", o.ModifiedBy)
	assert.Equal(t, "allergia noci", o.AdminNotes)

	rec, env = a.do(t, http.MethodGet, "/api/orders/1001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &o))
	assert.Len(t, o.LineItems, 1)

	rec, _ = a.do(t, http.MethodPatch, "/api/orders/1001", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.do(t, http.MethodGet, "/api/orders/9999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFieldEndpoints(t *testing.T) {
	a := newTestAPI(t)
	a.seedEvent(t, "501", "Gita Assisi")
	rec, _ := a.do(t, http.MethodPost, "/api/events/501/bookings", map[string]interface{}{
		"firstName":        "Mario",
		"lastName":         "Rossi",
		"participantCount": 1,
		"dynamicFields":    map[string]string{"pa_fermata": "Milano", "fermata": "Milano"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, env := a.do(t, http.MethodPatch, "/api/fields/fermata", map[string]string{"aliasOf": "pa_fermata"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var f models.FieldDefinition
	require.NoError(t, json.Unmarshal(env.Data, &f))
	require.NotNil(t, f.AliasOf)
	assert.Equal(t, "pa_fermata", *f.AliasOf)

	rec, env = a.do(t, http.MethodPatch, "/api/fields/pa_fermata", map[string]string{"aliasOf": "fermata"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, env.Error, "alias cycle")

	rec, _ = a.do(t, http.MethodPatch, "/api/fields/pa_fermata", map[string]string{"mappingType": "SIDEWAYS"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.do(t, http.MethodDelete, "/api/fields/pa_fermata", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = a.do(t, http.MethodGet, "/api/fields/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report map[string]models.FieldUsageReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Contains(t, report, "pa_fermata")

	rec, _ = a.do(t, http.MethodGet, "/api/fields/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = a.do(t, http.MethodDelete, "/api/fields/fermata", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, env = a.do(t, http.MethodGet, "/api/fields", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.FieldDefinition
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "pa_fermata", list[0].Key)
}

func TestStartSyncStreamsProgress(t *testing.T) {
	a := newTestAPI(t)
	total := 1
	a.syncer.events = []models.SyncProgress{
		{RunID: "r1", Status: models.ProgressInfo, Phase: "start", Message: "incremental sync started"},
		{RunID: "r1", Status: models.ProgressUpdate, Phase: "orders", Processed: 1, Total: &total},
		{RunID: "r1", Status: models.ProgressDone, Processed: 1, Result: &models.SyncResult{UpdatedIDs: []string{"1001"}, Processed: 1}},
	}

	rec, _ := a.do(t, http.MethodPost, "/api/sync", map[string]interface{}{"mode": "incremental", "days": 7})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Equal(t, 3, strings.Count(body, "data: "))
	assert.Contains(t, body, "event: info\n")
	assert.Contains(t, body, "event: progress\n")
	assert.Contains(t, body, "event: done\n")
	assert.Contains(t, body, `"updatedIds":["1001"]`)

	require.Len(t, a.syncer.requests, 1)
	assert.Equal(t, models.SyncIncremental, a.syncer.requests[0].Mode)
	assert.Equal(t, 7, a.syncer.requests[0].Days)
}

func TestStartSyncRejections(t *testing.T) {
	a := newTestAPI(t)

	rec, env := a.do(t, http.MethodPost, "/api/sync", map[string]interface{}{"mode": "sideways"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Fields, "mode")

	rec, env = a.do(t, http.MethodPost, "/api/sync", map[string]interface{}{"mode": "single_event"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Fields, "productId")
	assert.Empty(t, a.syncer.requests)

	a.syncer.err = apperr.ErrSyncInProgress
	rec, env = a.do(t, http.MethodPost, "/api/sync", map[string]interface{}{"mode": "full"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.ErrSyncInProgress.Error(), env.Error)
}

// streamRecorder is a ResponseRecorder that can be read while the handler is still writing.
type streamRecorder struct {
	mu sync.Mutex
	*httptest.ResponseRecorder
}

func (s *streamRecorder) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ResponseRecorder.Write(p)
}

func (s *streamRecorder) WriteHeader(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResponseRecorder.WriteHeader(code)
}

func (s *streamRecorder) Flush() {}

func (s *streamRecorder) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ResponseRecorder.Body.String()
}

func TestObserveSync(t *testing.T) {
	a := newTestAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/sync/events", nil).WithContext(ctx)
	rec := &streamRecorder{ResponseRecorder: httptest.NewRecorder()}
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.router.ServeHTTP(rec, req)
	}()

	require.Eventually(t, func() bool { return a.handler.Emitter.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	a.handler.Emitter.Emit(models.SyncProgress{RunID: "r9", Status: models.ProgressDone, Message: "0 orders processed"})

	require.Eventually(t, func() bool {
		return strings.Contains(rec.String(), "event: done")
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observer stream did not stop after the client went away")
	}
	body := rec.String()
	assert.True(t, strings.HasPrefix(body, "event: connected\n"))
	assert.Contains(t, body, `"runId":"r9"`)
}

func TestObserveRun(t *testing.T) {
	a := newTestAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/sync/r7/events", nil).WithContext(ctx)
	rec := &streamRecorder{ResponseRecorder: httptest.NewRecorder()}
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.router.ServeHTTP(rec, req)
	}()

	require.Eventually(t, func() bool { return a.handler.Emitter.RunClientCount("r7") == 1 }, time.Second, 5*time.Millisecond)
	a.handler.Emitter.Emit(models.SyncProgress{RunID: "r8", Status: models.ProgressUpdate, Message: "other run"})
	a.handler.Emitter.Emit(models.SyncProgress{RunID: "r7", Status: models.ProgressUpdate, Message: "orders page 1/2"})
	a.handler.Emitter.Emit(models.SyncProgress{RunID: "r7", Status: models.ProgressDone, Message: "2 orders processed"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run stream did not end after the terminal event")
	}
	body := rec.String()
	assert.True(t, strings.HasPrefix(body, "event: connected\n"))
	assert.Contains(t, body, "orders page 1/2")
	assert.Contains(t, body, "event: done")
	assert.NotContains(t, body, "other run")
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.NewValidation("bad", nil), http.StatusBadRequest},
		{apperr.NewNotFound("event", "1"), http.StatusNotFound},
		{&apperr.CycleError{Key: "a", Chain: []string{"a", "b", "a"}}, http.StatusConflict},
		{&apperr.InvalidTransitionError{EventID: "1", From: "CANCELLED", To: "PENDING"}, http.StatusConflict},
		{fmt.Errorf("claim: %w", apperr.ErrSyncInProgress), http.StatusConflict},
		{&apperr.UpstreamError{Op: "list orders", Attempts: 3, Err: errors.New("502")}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
