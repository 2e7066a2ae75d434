// Package remote provides unit tests for the remote store boundary.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"

	"github.com/habitsync/habitsync/internal/models"
	"github.com/habitsync/habitsync/internal/uuid"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"net timeout", &net.DNSError{IsTimeout: true}, true},
		{"status 503", &StatusError{StatusCode: 503}, true},
		{"status 429", &StatusError{StatusCode: 429}, true},
		{"status 400", &StatusError{StatusCode: 400}, false},
		{"status 401", &StatusError{StatusCode: 401}, false},
		{"plain error", errors.New("schema mismatch"), false},
	}

	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestChangeEventRecordID(t *testing.T) {
	event := &ChangeEvent{
		Type: ChangeDelete,
		Old:  json.RawMessage(`{"id":"r1"}`),
	}
	if got := event.RecordID(); got != "r1" {
		t.Errorf("Expected id from old payload, got %q", got)
	}

	event = &ChangeEvent{
		Type: ChangeUpdate,
		New:  json.RawMessage(`{"id":"r2"}`),
		Old:  json.RawMessage(`{"id":"r1"}`),
	}
	if got := event.RecordID(); got != "r2" {
		t.Errorf("Expected new payload to win, got %q", got)
	}
}

func TestHTTPStoreSelect(t *testing.T) {
	id := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tables/habits/records" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("user_id"); got != "u1" {
			t.Errorf("Expected user_id u1, got %q", got)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("Expected bearer token, got %q", auth)
		}
		fmt.Fprintf(w, `[{"id":%q,"name":"read"}]`, id)
	}))
	defer server.Close()

	store := NewHTTPStore(&HTTPConfig{
		BaseURL: server.URL,
		Token: func(ctx context.Context) (string, error) {
			return "tok", nil
		},
	})

	records, err := store.Select(context.Background(), models.TableHabits, "u1")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(records) != 1 || records[0].RecordID() != id {
		t.Errorf("Unexpected records: %+v", records)
	}
}

func TestHTTPStoreSelectMissingTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	store := NewHTTPStore(&HTTPConfig{BaseURL: server.URL})

	records, err := store.Select(context.Background(), models.TableCycleData, "u1")
	if err != nil {
		t.Fatalf("Missing table must be a benign empty result, got %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected empty result, got %d records", len(records))
	}
}

func TestHTTPStoreUpsert(t *testing.T) {
	id := uuid.New()
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewHTTPStore(&HTTPConfig{BaseURL: server.URL})
	habit := &models.HabitRecord{
		Envelope: models.Envelope{ID: id, UserID: "u1"},
		Name:     "read",
	}

	if err := store.Upsert(context.Background(), models.TableHabits, habit); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("Expected PUT, got %s", gotMethod)
	}
	if gotPath != "/tables/habits/records/"+id {
		t.Errorf("Unexpected path %q", gotPath)
	}
}

func TestHTTPStorePermanentRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "schema mismatch", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	store := NewHTTPStore(&HTTPConfig{BaseURL: server.URL})
	habit := &models.HabitRecord{
		Envelope: models.Envelope{ID: uuid.New()},
		Name:     "read",
	}

	err := store.Upsert(context.Background(), models.TableHabits, habit)
	if err == nil {
		t.Fatal("Expected error for 422 response")
	}
	if IsTransient(err) {
		t.Error("422 must classify as permanent")
	}
}

func TestHTTPStoreUnreachableIsTransient(t *testing.T) {
	store := NewHTTPStore(&HTTPConfig{
		BaseURL: "http://127.0.0.1:1",
		Timeout: 500 * time.Millisecond,
	})
	habit := &models.HabitRecord{
		Envelope: models.Envelope{ID: uuid.New()},
		Name:     "read",
	}

	err := store.Upsert(context.Background(), models.TableHabits, habit)
	if err == nil {
		t.Fatal("Expected error for unreachable host")
	}
	if !IsTransient(err) {
		t.Errorf("Unreachable host must classify as transient, got %v", err)
	}
}
