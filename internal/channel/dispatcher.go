package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/pkg/circuitbreaker"
	"github.com/freightlane/notify-api/pkg/logger"
	"github.com/freightlane/notify-api/pkg/metrics"
)

// Renderer interpolates a template against notification data.
type Renderer interface {
	Render(tpl *model.Template, vars map[string]interface{}) model.StringMap
}

// Outcome is the normalized result of one channel send.
type Outcome struct {
	Channel           model.Channel            `json:"channel"`
	Status            model.NotificationStatus `json:"status"`
	ProviderMessageID string                   `json:"provider_message_id,omitempty"`
	Error             string                   `json:"error,omitempty"`
	// Content is what was rendered for the channel.
	Content model.StringMap `json:"-"`
}

// Succeeded reports whether the backend accepted the message.
func (o Outcome) Succeeded() bool {
	return o.Status == model.NotificationStatusSent || o.Status == model.NotificationStatusDelivered
}

type Config struct {
	Enabled map[model.Channel]bool
	// Timeout bounds every backend call.
	Timeout time.Duration
}

// BackendOptions tune the guards wrapped around a backend.
type BackendOptions struct {
	RateLimit   float64
	Burst       int
	MaxFailures int
	OpenTimeout time.Duration
}

type guardedBackend struct {
	backend Backend
	breaker *circuitbreaker.CircuitBreaker
	limiter *rate.Limiter
}

// Dispatcher fronts one backend per channel. It never touches the store and never
// returns backend errors to the caller; every failure is folded into the Outcome.
type Dispatcher struct {
	mu       sync.RWMutex
	backends map[model.Channel]*guardedBackend
	topic    TopicBackend
	topicCB  *circuitbreaker.CircuitBreaker
	config   Config
	renderer Renderer
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewDispatcher(cfg Config, renderer Renderer, logger *logger.Logger, metrics *metrics.Metrics) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Dispatcher{
		backends: make(map[model.Channel]*guardedBackend),
		config:   cfg,
		renderer: renderer,
		logger:   logger.With("dispatcher"),
		metrics:  metrics,
	}
}

// Register installs backend for ch, replacing any previous one.
func (d *Dispatcher) Register(ch model.Channel, backend Backend, opts BackendOptions) {
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.backends[ch] = &guardedBackend{
		backend: backend,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        string(ch),
			MaxFailures: opts.MaxFailures,
			Timeout:     opts.OpenTimeout,
		}),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// RegisterTopic installs the broadcast-topic backend.
func (d *Dispatcher) RegisterTopic(backend TopicBackend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.topic = backend
	d.topicCB = circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{Name: "topic"})
}

// IsAvailable reports whether ch is enabled in config and has a backend.
func (d *Dispatcher) IsAvailable(ch model.Channel) bool {
	if !d.config.Enabled[ch] {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.backends[ch]
	return ok
}

func (d *Dispatcher) backend(ch model.Channel) *guardedBackend {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.backends[ch]
}

// RenderFor renders tpl against n's data, letting explicit content on n win.
func (d *Dispatcher) RenderFor(n *model.Notification, tpl *model.Template) model.StringMap {
	vars := make(map[string]interface{}, len(n.Data)+2)
	for k, v := range n.Data {
		vars[k] = v
	}
	vars["userId"] = n.UserID
	vars["notificationKind"] = string(n.NotificationKind)

	content := model.StringMap{}
	if tpl != nil && d.renderer != nil {
		content = d.renderer.Render(tpl, vars)
	}
	for k, v := range n.Content {
		if v != "" {
			content[k] = v
		}
	}
	return content
}

// Send delivers n over ch to contact and reports the outcome.
func (d *Dispatcher) Send(ctx context.Context, n *model.Notification, tpl *model.Template, ch model.Channel, contact *model.RecipientContact) Outcome {
	out := Outcome{Channel: ch}
	log := d.logger.WithFields(map[string]interface{}{
		"notification_id": n.ID.String(),
		"user_id":         n.UserID,
		"channel":         string(ch),
	})

	if !d.IsAvailable(ch) {
		log.Warn("Channel unavailable, skipping")
		return d.finish(out, model.NotificationStatusSkipped, ErrUnavailable)
	}

	recipient, err := RecipientFor(ch, n, contact)
	if err != nil {
		log.Info("No deliverable recipient, skipping", "reason", err.Error())
		return d.finish(out, model.NotificationStatusSkipped, err)
	}

	out.Content = d.RenderFor(n, tpl)
	msg := &Message{Notification: n, Content: out.Content, Recipient: recipient}
	gb := d.backend(ch)

	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	start := time.Now()
	var res *Result
	err = d.guard(ctx, gb, func() (sendErr error) {
		defer func() {
			if p := recover(); p != nil {
				sendErr = fmt.Errorf("backend panic: %v", p)
			}
		}()
		res, sendErr = gb.backend.Send(ctx, msg)
		return sendErr
	})
	d.metrics.DispatchLatency.WithLabelValues(string(ch)).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Error(err, "Channel send failed")
		return d.finish(out, model.NotificationStatusFailed, err)
	}
	if res == nil {
		res = &Result{}
	}
	out.ProviderMessageID = res.ProviderMessageID

	switch {
	case res.Total > 0 && res.Accepted == 0:
		return d.finish(out, model.NotificationStatusFailed, errors.New("no addresses accepted"))
	case res.Confirmed:
		log.Debug("Channel send delivered")
		return d.finish(out, model.NotificationStatusDelivered, nil)
	default:
		if res.Total > 0 && res.Accepted < res.Total {
			log.Info("Partial push acceptance", "accepted", res.Accepted, "total", res.Total)
		}
		return d.finish(out, model.NotificationStatusSent, nil)
	}
}

// SendToTopic broadcasts n to every subscriber of topic. Acceptance is the best it
// can report, so a success is always SENT.
func (d *Dispatcher) SendToTopic(ctx context.Context, topic string, n *model.Notification, tpl *model.Template) Outcome {
	out := Outcome{Channel: model.ChannelPush}

	d.mu.RLock()
	backend, breaker := d.topic, d.topicCB
	d.mu.RUnlock()
	if backend == nil || !d.config.Enabled[model.ChannelPush] {
		d.logger.Warn("Topic broadcast unavailable", "topic", topic)
		return d.finish(out, model.NotificationStatusFailed, ErrUnavailable)
	}

	out.Content = d.RenderFor(n, tpl)

	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	err := breaker.Execute(func() error {
		id, err := backend.SendToTopic(ctx, topic, out.Content, n.Data)
		out.ProviderMessageID = id
		return err
	})
	if err != nil {
		d.logger.Error(err, "Topic broadcast failed", "topic", topic)
		return d.finish(out, model.NotificationStatusFailed, err)
	}
	return d.finish(out, model.NotificationStatusSent, nil)
}

func (d *Dispatcher) guard(ctx context.Context, gb *guardedBackend, fn func() error) error {
	if err := gb.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return gb.breaker.Execute(fn)
}

func (d *Dispatcher) finish(out Outcome, status model.NotificationStatus, err error) Outcome {
	out.Status = status
	if err != nil {
		out.Error = err.Error()
	}
	d.metrics.NotificationsDispatched.WithLabelValues(string(out.Channel), string(status)).Inc()
	return out
}
