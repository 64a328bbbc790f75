// Command stripe-webhook-sim posts a signed checkout session event to a running booking
// service, for manual end-to-end runs without the Stripe CLI.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"
)

func main() {
	var (
		baseURL   = flag.String("base-url", getenv("BASE_URL", "http://localhost:8083"), "booking service base url")
		evtType   = flag.String("type", getenv("STRIPE_EVENT_TYPE", "checkout.session.completed"), "stripe event type")
		bookingID = flag.String("booking-id", getenv("BOOKING_ID", ""), "booking_id metadata")
		sessionID = flag.String("session-id", getenv("CHECKOUT_SESSION_ID", ""), "checkout session id (cs_...)")
		eventID   = flag.String("event-id", "", "event id; reuse one to exercise redelivery")
		secret    = flag.String("secret", getenv("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(*bookingID) == "" || strings.TrimSpace(*sessionID) == "" {
		fatal("BOOKING_ID and CHECKOUT_SESSION_ID are required")
	}

	now := time.Now().UTC()
	if *eventID == "" {
		*eventID = fmt.Sprintf("evt_test_%d", now.UnixNano())
	}

	payload, err := buildEventJSON(*eventID, *evtType, now, *sessionID, *bookingID)
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	fmt.Printf("event_id=%s status=%d body=%s\n", *eventID, resp.StatusCode, strings.TrimSpace(string(body)))
}

// sessionStates gives the session status and payment status each event type carries.
var sessionStates = map[string][2]string{
	"checkout.session.completed":               {"complete", "paid"},
	"checkout.session.async_payment_succeeded": {"complete", "paid"},
	"checkout.session.async_payment_failed":    {"complete", "unpaid"},
	"checkout.session.expired":                 {"expired", "unpaid"},
}

func buildEventJSON(eventID, eventType string, t time.Time, sessionID, bookingID string) ([]byte, error) {
	state, ok := sessionStates[eventType]
	if !ok {
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        eventType,
		"api_version": "2024-06-20",
		"data": map[string]any{
			"object": map[string]any{
				"id":             sessionID,
				"object":         "checkout.session",
				"status":         state[0],
				"payment_status": state[1],
				"metadata": map[string]any{
					"booking_id": bookingID,
				},
			},
		},
	})
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
