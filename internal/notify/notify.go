// Package notify delivers upcoming-deadline notifications. Delivery is
// best-effort: the dispatcher runs each send on its own goroutine, logs
// failures, and never reports them back to the analysis pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/clauselens/clauselens/internal/contract"
)

type Notifier interface {
	Notify(ctx context.Context, rec *contract.Record, deadlines []contract.KeyDate) error
}

// WebhookNotifier POSTs a JSON payload describing the record's upcoming
// deadlines to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{url: url, client: client}
}

type webhookPayload struct {
	ContractID string             `json:"contract_id"`
	Title      string             `json:"title"`
	Deadlines  []contract.KeyDate `json:"deadlines"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, rec *contract.Record, deadlines []contract.KeyDate) error {
	blob, err := json.Marshal(webhookPayload{
		ContractID: rec.ID,
		Title:      rec.Title,
		Deadlines:  deadlines,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(blob))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notifier endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Dispatcher detaches notification sends from the caller. Wait exists so
// tests and shutdown paths can drain in-flight sends.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(notifier Notifier) *Dispatcher {
	return &Dispatcher{notifier: notifier, timeout: 30 * time.Second}
}

func (d *Dispatcher) Dispatch(rec *contract.Record, deadlines []contract.KeyDate) {
	if d.notifier == nil || len(deadlines) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, rec, deadlines); err != nil {
			log.Printf("notifier contract=%s failed: %v", rec.ID, err)
			return
		}
		log.Printf("notifier contract=%s sent %d upcoming deadline(s)", rec.ID, len(deadlines))
	}()
}

func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
