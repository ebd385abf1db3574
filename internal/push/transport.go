// internal/push/transport.go
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/sony/gobreaker"

	"reminder-workers/internal/common/config"
	"reminder-workers/internal/common/errors"
	"reminder-workers/internal/common/logger"
	"reminder-workers/internal/models"
)

// Payload is the JSON document delivered inside the encrypted push message.
type Payload struct {
	Title              string      `json:"title"`
	Body               string      `json:"body"`
	Icon               string      `json:"icon"`
	Badge              string      `json:"badge"`
	Tag                string      `json:"tag"`
	RequireInteraction bool        `json:"requireInteraction"`
	Data               PayloadData `json:"data"`
}

// PayloadData is the caller-supplied data block the service worker receives.
type PayloadData struct {
	ReminderID string `json:"reminderId"`
	Type       string `json:"type"`
	URL        string `json:"url"`
}

// sendFunc matches webpush.SendNotificationWithContext, injectable for tests.
type sendFunc func(ctx context.Context, message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)

// Transport delivers one payload to one subscription over the Web Push
// protocol and classifies failures as permanent or transient.
type Transport struct {
	subscriber string
	publicKey  string
	privateKey string
	ttl        int
	send       sendFunc
	breaker    *gobreaker.CircuitBreaker
	log        logger.Logger
}

func NewTransport(cfg config.PushConfig, log logger.Logger) *Transport {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "web-push",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
	})

	return &Transport{
		subscriber: cfg.Subscriber,
		publicKey:  cfg.VAPIDPublicKey,
		privateKey: cfg.VAPIDPrivateKey,
		ttl:        cfg.TTL,
		send:       webpush.SendNotificationWithContext,
		breaker:    breaker,
		log:        log,
	}
}

// Send delivers the payload to a single subscription. Permanent failures
// return ErrCodeEndpointGone so the caller can prune the subscription.
func (t *Transport) Send(ctx context.Context, sub models.PushSubscription, payload Payload) error {
	message, err := json.Marshal(payload)
	if err != nil {
		return errors.NewPushSendFailedError(sub.Endpoint, err)
	}

	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}

	result, err := t.breaker.Execute(func() (interface{}, error) {
		return t.send(ctx, message, target, &webpush.Options{
			Subscriber:      t.subscriber,
			VAPIDPublicKey:  t.publicKey,
			VAPIDPrivateKey: t.privateKey,
			TTL:             t.ttl,
		})
	})
	if err != nil {
		if isGoneError(err) {
			return errors.NewEndpointGoneError(sub.Endpoint, 0)
		}
		return errors.NewPushSendFailedError(sub.Endpoint, err)
	}

	resp := result.(*http.Response)
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return errors.NewEndpointGoneError(sub.Endpoint, resp.StatusCode)
	default:
		return errors.NewPushSendFailedError(sub.Endpoint,
			fmt.Errorf("push service responded with status %d", resp.StatusCode))
	}
}

// isGoneError matches transport error text that indicates the endpoint
// will never succeed again.
func isGoneError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"gone", "expired", "unsubscribed", "invalid subscription", "410"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
