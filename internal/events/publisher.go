package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/AnuragDani/subscription-billing/internal/httpclient"
	"github.com/AnuragDani/subscription-billing/internal/logger"
)

// Event represents an event to publish
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Name is the dotted event name, e.g. "invoice.created"
func (e Event) Name() string {
	return e.Type + "." + e.Event
}

// New stamps an event with an id and the current time
func New(eventType, eventName string, data interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Event:     eventName,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Emitter receives domain events after the change that caused them has committed.
// Emit must not block the caller on delivery.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// Event type constants
const (
	TypeSubscription = "subscription"
	TypeInvoice      = "invoice"
	TypeBilling      = "billing"
)

// Subscription event constants
const (
	SubscriptionCreated     = "created"
	SubscriptionRenewed     = "renewed"
	SubscriptionCanceled    = "canceled"
	SubscriptionPlanChanged = "plan_changed"
)

// Invoice event constants
const (
	InvoiceCreated = "created"
	InvoicePaid    = "paid"
)

// Billing event constants
const (
	BillingRunCompleted = "run_completed"
)

// SubscriptionEventData represents subscription event payload
type SubscriptionEventData struct {
	SubscriptionID     string    `json:"subscription_id"`
	CustomerID         string    `json:"customer_id"`
	PlanID             string    `json:"plan_id"`
	PreviousPlanID     string    `json:"previous_plan_id,omitempty"`
	Status             string    `json:"status"`
	CancelAtPeriodEnd  bool      `json:"cancel_at_period_end"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
}

// InvoiceEventData represents invoice event payload
type InvoiceEventData struct {
	InvoiceID      string          `json:"invoice_id"`
	CustomerID     string          `json:"customer_id"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	BillingReason  string          `json:"billing_reason"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
}

// RunEventData represents a finished billing run
type RunEventData struct {
	RunID             string    `json:"run_id"`
	TargetDate        time.Time `json:"target_date"`
	Processed         int       `json:"processed"`
	GeneratedInvoices int       `json:"generated_invoices"`
	Failed            int       `json:"failed"`
	DurationMs        int64     `json:"duration_ms"`
}

// Publisher delivers events as JSON webhooks
type Publisher struct {
	client *httpclient.Client
	path   string
	logger *logger.Logger
	wg     sync.WaitGroup
}

// NewPublisher creates a new webhook publisher. webhookURL is the full endpoint.
func NewPublisher(webhookURL string, log *logger.Logger) *Publisher {
	return &Publisher{
		client: httpclient.NewClient(webhookURL, 5*time.Second).WithHeader("User-Agent", "subscription-billing"),
		logger: log,
	}
}

// Publish sends an event to the webhook endpoint
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if err := p.client.Post(ctx, p.path, event, nil); err != nil {
		return fmt.Errorf("failed to deliver %s: %w", event.Name(), err)
	}
	return nil
}

// Emit sends the event asynchronously (fire and forget)
func (p *Publisher) Emit(_ context.Context, event Event) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.Publish(ctx, event); err != nil {
			p.logger.Warn("Webhook delivery failed", "event", event.Name(), "event_id", event.ID, "error", err)
		}
	}()
}

// Wait blocks until in-flight deliveries finish
func (p *Publisher) Wait() {
	p.wg.Wait()
}

// Fanout emits every event to each of its emitters
type Fanout []Emitter

func (f Fanout) Emit(ctx context.Context, event Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(ctx, event)
		}
	}
}

// Nop drops events
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// Recorder keeps emitted events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the dotted names of the recorded events in order
func (r *Recorder) Names() []string {
	events := r.Events()
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Name()
	}
	return names
}
