package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeStore is an in-memory PostgREST stand-in for the calls table that
// understands the handful of filters the client sends.
type fakeStore struct {
	mu   sync.Mutex
	rows []CallRow
	reqs []*http.Request
}

func (f *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, r)

	if r.URL.Path != "/rest/v1/calls" {
		http.NotFound(w, r)
		return
	}
	if r.Header.Get("apikey") != "key" || r.Header.Get("Authorization") != "Bearer key" {
		http.Error(w, `{"message":"no api key"}`, http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	match := func(row CallRow) bool {
		if v := q.Get("room_id"); v != "" && "eq."+row.RoomID != v {
			return false
		}
		if v := q.Get("status"); v != "" && "eq."+row.Status != v {
			return false
		}
		return true
	}

	var out []CallRow
	switch r.Method {
	case http.MethodPost:
		var row CallRow
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &row); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		row.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
		f.rows = append(f.rows, row)
		out = append(out, row)
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		for _, row := range f.rows {
			if match(row) {
				out = append(out, row)
			}
		}
		if q.Get("limit") == "1" && len(out) > 1 {
			out = out[:1]
		}
	case http.MethodPatch:
		var patch map[string]string
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &patch)
		for i, row := range f.rows {
			if match(row) {
				f.rows[i].Status = patch["status"]
				helper := patch["helper_id"]
				f.rows[i].HelperID = &helper
				out = append(out, f.rows[i])
			}
		}
	case http.MethodDelete:
		kept := f.rows[:0]
		for _, row := range f.rows {
			if match(row) {
				out = append(out, row)
				continue
			}
			kept = append(kept, row)
		}
		f.rows = kept
	}

	if out == nil {
		out = []CallRow{}
	}
	_ = json.NewEncoder(w).Encode(out)
}

func newTestClient(t *testing.T) (*Client, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/rest/v1/", "key"), store
}

func TestCreateAndAccept(t *testing.T) {
	c, store := newTestClient(t)
	ctx := context.Background()

	row, err := c.CreateCall(ctx, "room_1")
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if row.Status != StatusWaiting {
		t.Fatalf("expected waiting, got %q", row.Status)
	}
	if got := store.reqs[0].Header.Get("Prefer"); got != "return=representation" {
		t.Fatalf("expected Prefer header, got %q", got)
	}

	next, err := c.NextWaiting(ctx)
	if err != nil {
		t.Fatalf("NextWaiting: %v", err)
	}
	if next.RoomID != "room_1" {
		t.Fatalf("unexpected room %q", next.RoomID)
	}

	accepted, err := c.AcceptCall(ctx, "room_1", "helper-1")
	if err != nil {
		t.Fatalf("AcceptCall: %v", err)
	}
	if accepted.Status != StatusAccepted || accepted.HelperID == nil || *accepted.HelperID != "helper-1" {
		t.Fatalf("unexpected accepted row %+v", accepted)
	}

	if _, err := c.AcceptCall(ctx, "room_1", "helper-2"); !errors.Is(err, ErrCallTaken) {
		t.Fatalf("expected ErrCallTaken, got %v", err)
	}
	if _, err := c.NextWaiting(ctx); !errors.Is(err, ErrNoWaitingCall) {
		t.Fatalf("expected ErrNoWaitingCall, got %v", err)
	}
}

func TestWaitAccepted(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := c.CreateCall(ctx, "room_2"); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = c.AcceptCall(context.Background(), "room_2", "helper")
	}()

	row, err := c.WaitAccepted(ctx, "room_2", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitAccepted: %v", err)
	}
	if row.Status != StatusAccepted {
		t.Fatalf("expected accepted, got %q", row.Status)
	}
}

func TestWaitAccepted_ContextCancelled(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.CreateCall(context.Background(), "room_3"); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if _, err := c.WaitAccepted(ctx, "room_3", 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCancelCall(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	if _, err := c.CreateCall(ctx, "room_4"); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if err := c.CancelCall(ctx, "room_4"); err != nil {
		t.Fatalf("CancelCall: %v", err)
	}
	if _, err := c.GetCall(ctx, "room_4"); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("expected ErrCallNotFound, got %v", err)
	}
}

func TestHTTPErrorSurfaces(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()
	c := NewClient(srv.URL+"/rest/v1", "wrong")

	_, err := c.NextWaiting(context.Background())
	if err == nil {
		t.Fatal("expected an error for a rejected api key")
	}
}
