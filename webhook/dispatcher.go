package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	api "github.com/carlos-burelo/cgsm-tabuladores/api/v1"
	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence"
	"github.com/carlos-burelo/cgsm-tabuladores/util"
	"go.uber.org/zap"
)

// DeliveryQueue is the delay queue carrying pending webhook deliveries.
// Scheduled retries live in storage, not in process memory, so they
// survive a restart.
const DeliveryQueue string = "WEBHOOK_DELIVERIES"

const responseBodyLimit = 64 * 1024

const senderCapacity = 128

type Config struct {
	Timeout      time.Duration
	MaxRetries   int
	BaseDelay    time.Duration
	PollInterval int
}

// Dispatcher delivers webhooks asynchronously. Send never blocks on the
// HTTP call and never surfaces an error to the triggering operation.
type Dispatcher struct {
	httpClient *http.Client
	logStorage persistence.WebhookLogStorage
	queue      persistence.DelayQueue
	encDec     util.EncoderDecoder[model.WebhookDelivery]
	conf       Config
	tickWorker *util.TickWorker
	sender     *util.Worker
}

func NewDispatcher(logStorage persistence.WebhookLogStorage, queue persistence.DelayQueue, conf Config) *Dispatcher {
	return &Dispatcher{
		httpClient: &http.Client{Timeout: conf.Timeout},
		logStorage: logStorage,
		queue:      queue,
		encDec:     util.NewJsonEncoderDecoder[model.WebhookDelivery](),
		conf:       conf,
	}
}

// Send enqueues the first delivery attempt. Fire-and-forget: enqueue
// failures are logged, never returned.
func (d *Dispatcher) Send(url string, payload model.WebhookPayload) {
	delivery := model.WebhookDelivery{
		Url:     url,
		Payload: payload,
		Attempt: 1,
	}
	data, err := d.encDec.Encode(delivery)
	if err != nil {
		logger.Error("failed to encode webhook delivery", zap.String("url", url), zap.Error(err))
		return
	}
	if err := d.queue.Push(DeliveryQueue, data); err != nil {
		logger.Error("failed to enqueue webhook delivery", zap.String("url", url), zap.Error(err))
	}
}

func (d *Dispatcher) StartWorker(wg *sync.WaitGroup) {
	d.sender = util.NewWorker("webhook-sender", wg, func(task util.Task) error {
		d.attempt(task.(model.WebhookDelivery))
		return nil
	}, senderCapacity)
	d.sender.Start()
	d.tickWorker = util.NewTickWorker("webhook-dispatcher", d.conf.PollInterval, make(chan struct{}), func() {
		d.ProcessDue()
	}, wg)
	d.tickWorker.Start()
}

func (d *Dispatcher) Stop() {
	if d.tickWorker != nil {
		d.tickWorker.Stop()
	}
	if d.sender != nil {
		d.sender.Stop()
	}
}

// ProcessDue drains every delivery whose due time has passed and attempts
// it once.
func (d *Dispatcher) ProcessDue() {
	messages, err := d.queue.Pop(DeliveryQueue)
	if err != nil {
		logger.Error("failed to poll webhook delivery queue", zap.Error(err))
		return
	}
	for _, message := range messages {
		delivery, err := d.encDec.Decode([]byte(message))
		if err != nil {
			logger.Error("dropping undecodable webhook delivery", zap.Error(err))
			continue
		}
		// attempts run on the sender worker so a slow endpoint does not
		// stall the poll loop
		if d.sender != nil {
			d.sender.Sender() <- *delivery
			continue
		}
		d.attempt(*delivery)
	}
}

func (d *Dispatcher) attempt(delivery model.WebhookDelivery) {
	statusCode, response, err := d.post(delivery.Url, delivery.Payload)
	success := err == nil && statusCode >= 200 && statusCode < 300
	if err != nil {
		response = api.DeliveryError{Url: delivery.Url, Attempt: delivery.Attempt, Reason: err.Error()}.Error()
	}
	logEntry := model.WebhookLogEntry{
		Url:        delivery.Url,
		Event:      delivery.Payload.Event,
		Payload:    delivery.Payload.Data,
		StatusCode: statusCode,
		Response:   response,
		RetryCount: delivery.Attempt - 1,
		Success:    success,
		CreatedAt:  time.Now(),
	}
	if err := d.logStorage.Append(logEntry); err != nil {
		logger.Error("failed to record webhook attempt", zap.String("url", delivery.Url), zap.Error(err))
	}
	if success {
		logger.Debug("webhook delivered", zap.String("url", delivery.Url), zap.String("event", delivery.Payload.Event))
		return
	}
	if delivery.Attempt > d.conf.MaxRetries {
		reason := response
		if err == nil {
			reason = fmt.Sprintf("status %d", statusCode)
		}
		logger.Error("webhook delivery failed terminally",
			zap.String("event", delivery.Payload.Event),
			zap.Error(api.DeliveryError{Url: delivery.Url, Attempt: delivery.Attempt, Reason: reason}))
		return
	}
	delay := d.conf.BaseDelay * (1 << (delivery.Attempt - 1))
	next := model.WebhookDelivery{
		Url:     delivery.Url,
		Payload: delivery.Payload,
		Attempt: delivery.Attempt + 1,
	}
	data, encodeErr := d.encDec.Encode(next)
	if encodeErr != nil {
		logger.Error("failed to encode webhook retry", zap.String("url", delivery.Url), zap.Error(encodeErr))
		return
	}
	if err := d.queue.PushWithDelay(DeliveryQueue, delay, data); err != nil {
		logger.Error("failed to schedule webhook retry", zap.String("url", delivery.Url), zap.Error(err))
		return
	}
	logger.Warn("webhook failed, retry scheduled",
		zap.String("url", delivery.Url),
		zap.Int("attempt", delivery.Attempt),
		zap.Duration("delay", delay))
}

func (d *Dispatcher) post(url string, payload model.WebhookPayload) (int, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", payload.Event)
	req.Header.Set("X-Instance-Id", payload.InstanceId)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	return resp.StatusCode, string(responseBody), nil
}
