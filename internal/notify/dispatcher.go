package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"gasrails/internal/hmacauth"
)

// Event kinds carried on the webhook.
const (
	KindConfirmed = "relay.confirmed"
	KindRejected  = "relay.rejected"
	KindFailed    = "relay.failed"
)

// Event is a snapshot of a relay outcome plus request metadata. Transient:
// if delivery fails the event is logged and dropped, never queued.
type Event struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	RequestID  string    `json:"requestId"`
	Capability string    `json:"capability"`
	Subject    string    `json:"subject,omitempty"`
	TxHash     string    `json:"txHash,omitempty"`
	FeeSpent   string    `json:"feeSpentWei,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Dispatcher delivers events to the configured webhook endpoint, once, with
// a bounded timeout. Delivery runs off the request path: failures are logged
// and swallowed, and never reach the relay engine or delay its outcome.
type Dispatcher struct {
	endpoint string
	secret   string
	timeout  time.Duration
	client   *http.Client
	log      *zap.Logger

	wg sync.WaitGroup

	// OnResult, when set, observes delivery results ("delivered",
	// "failed", "skipped"). Used for metrics; must not block.
	OnResult func(result string)
}

func NewDispatcher(endpoint, secret string, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		endpoint: endpoint,
		secret:   secret,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

// Dispatch hands the event to a background delivery and returns immediately.
func (d *Dispatcher) Dispatch(event Event) {
	if d.endpoint == "" {
		d.result("skipped")
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.deliver(event); err != nil {
			d.log.Warn("webhook delivery failed",
				zap.String("eventId", event.ID),
				zap.String("kind", event.Kind),
				zap.Error(err))
			d.result("failed")
			return
		}
		d.result("delivered")
	}()
}

func (d *Dispatcher) deliver(event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("X-Request-Timestamp", ts)
	if d.secret != "" {
		req.Header.Set("X-Request-Signature", hmacauth.Sign(d.secret, ts, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Close waits for in-flight deliveries, bounded by the delivery timeout.
func (d *Dispatcher) Close() {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.timeout + time.Second):
	}
}

func (d *Dispatcher) result(res string) {
	if d.OnResult != nil {
		d.OnResult(res)
	}
}
