package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gasrails/internal/hmacauth"
)

func testEvent() Event {
	return Event{
		ID:         "evt-1",
		Kind:       KindConfirmed,
		RequestID:  "req-1",
		Capability: "transfer",
		Subject:    "0x1111111111111111111111111111111111111111",
		TxHash:     "0xabc",
		FeeSpent:   "1200000000000000",
		Timestamp:  time.Now().UTC(),
	}
}

func TestDispatcherDeliversSignedEvent(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		ts := r.Header.Get("X-Request-Timestamp")
		require.NotEmpty(t, ts)
		require.Equal(t, hmacauth.Sign("hook-secret", ts, body), r.Header.Get("X-Request-Signature"))

		var event Event
		require.NoError(t, json.Unmarshal(body, &event))
		received <- event
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, "hook-secret", time.Second, zaptest.NewLogger(t))
	d.Dispatch(testEvent())
	d.Close()

	select {
	case event := <-received:
		require.Equal(t, "evt-1", event.ID)
		require.Equal(t, KindConfirmed, event.Kind)
		require.Equal(t, "0xabc", event.TxHash)
		require.Equal(t, "1200000000000000", event.FeeSpent)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestDispatcherSwallowsDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	var results []string
	done := make(chan struct{}, 1)
	d := NewDispatcher(srv.URL, "", time.Second, zaptest.NewLogger(t))
	d.OnResult = func(res string) {
		results = append(results, res)
		done <- struct{}{}
	}

	d.Dispatch(testEvent())
	<-done
	d.Close()

	require.Equal(t, []string{"failed"}, results)
}

func TestDispatchDoesNotBlockOnSlowEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, "", 50*time.Millisecond, zaptest.NewLogger(t))

	start := time.Now()
	d.Dispatch(testEvent())
	require.Less(t, time.Since(start), 50*time.Millisecond, "Dispatch must return without waiting on delivery")
	d.Close()
}

func TestDispatcherSkipsWithoutEndpoint(t *testing.T) {
	var results []string
	d := NewDispatcher("", "", time.Second, zaptest.NewLogger(t))
	d.OnResult = func(res string) { results = append(results, res) }

	d.Dispatch(testEvent())
	d.Close()

	require.Equal(t, []string{"skipped"}, results)
}
