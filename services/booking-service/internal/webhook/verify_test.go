package webhook

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/stripe/stripe-go/v79/webhook"
)

const secret = "whsec_test_secret"

var (
	payload = []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	now     = time.Unix(1769418000, 0)
	fixed   = Options{Now: func() time.Time { return now }}
)

func TestVerifyTimestamped_Valid(t *testing.T) {
	header := SignTimestamped(payload, secret, now.Add(-time.Minute))
	if err := Verify(header, payload, secret, SchemeTimestamped, fixed); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyTimestamped_SingleByteMutationFails(t *testing.T) {
	header := SignTimestamped(payload, secret, now)
	for i := range payload {
		mutated := bytes.Clone(payload)
		mutated[i] ^= 0x01
		err := Verify(header, mutated, secret, SchemeTimestamped, fixed)
		if !errors.Is(err, ErrSignatureMismatch) {
			t.Fatalf("byte %d: expected mismatch, got %v", i, err)
		}
	}
}

func TestVerifyTimestamped_Tolerance(t *testing.T) {
	old := SignTimestamped(payload, secret, now.Add(-6*time.Minute))
	if err := Verify(old, payload, secret, SchemeTimestamped, fixed); !errors.Is(err, ErrTimestampExpired) {
		t.Fatalf("expected expired timestamp, got %v", err)
	}
	future := SignTimestamped(payload, secret, now.Add(6*time.Minute))
	if err := Verify(future, payload, secret, SchemeTimestamped, fixed); !errors.Is(err, ErrTimestampExpired) {
		t.Fatalf("expected future timestamp rejected, got %v", err)
	}
	wide := fixed
	wide.Tolerance = 10 * time.Minute
	if err := Verify(old, payload, secret, SchemeTimestamped, wide); err != nil {
		t.Fatalf("expected wider tolerance to accept, got %v", err)
	}
}

func TestVerifyTimestamped_SecretRotation(t *testing.T) {
	oldSig := SignTimestamped(payload, "whsec_old", now)
	newSig := SignTimestamped(payload, secret, now)
	_, oldV1, _ := strings.Cut(oldSig, ",")
	header := newSig + ", " + oldV1 + " ,v0=deadbeef"
	if err := Verify(header, payload, secret, SchemeTimestamped, fixed); err != nil {
		t.Fatalf("expected match on any v1 candidate, got %v", err)
	}
	if err := Verify(header, payload, "whsec_old", SchemeTimestamped, fixed); err != nil {
		t.Fatalf("expected old secret to match its candidate, got %v", err)
	}
}

func TestVerifyTimestamped_MalformedHeaders(t *testing.T) {
	cases := map[string]error{
		"":                 ErrMissingHeader,
		"v1=abcd":          ErrMalformedHeader,
		"t=abc,v1=abcd":    ErrMalformedHeader,
		"t=1,t=2,v1=abcd":  ErrMalformedHeader,
		"t=1769418000":     ErrNoSignatures,
		"t=1769418000,v1=": ErrNoSignatures,
	}
	for header, want := range cases {
		err := Verify(header, payload, secret, SchemeTimestamped, fixed)
		if !errors.Is(err, want) {
			t.Fatalf("header %q: expected %v, got %v", header, want, err)
		}
		if apperr.KindOf(err) != apperr.KindAuthentication {
			t.Fatalf("header %q: expected authentication kind, got %s", header, apperr.KindOf(err))
		}
	}
}

func TestVerifyPlain(t *testing.T) {
	sig := SignPlain(payload, secret)
	if err := Verify(sig, payload, secret, SchemePlain, Options{}); err != nil {
		t.Fatalf("expected valid plain signature, got %v", err)
	}
	if err := Verify("sha256="+sig, payload, secret, SchemePlain, Options{}); err != nil {
		t.Fatalf("expected prefixed plain signature, got %v", err)
	}
	if err := Verify(sig, append(bytes.Clone(payload), ' '), secret, SchemePlain, Options{}); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := Verify("zz", payload, secret, SchemePlain, Options{}); !errors.Is(err, ErrMalformedHeader) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestVerify_StripeCompatible(t *testing.T) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	if err := Verify(signed.Header, payload, secret, SchemeTimestamped, Options{}); err != nil {
		t.Fatalf("expected stripe-generated header to verify, got %v", err)
	}
	ours := SignTimestamped(payload, secret, time.Now())
	if _, err := webhook.ConstructEventWithOptions(payload, ours, secret, webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true}); err != nil {
		t.Fatalf("expected stripe to accept our header, got %v", err)
	}
}

func TestVerifier_NoSecret(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	prod := &Verifier{Provider: "stripe", Logger: logger}
	err := prod.Verify("", payload)
	if !errors.Is(err, ErrNoSecret) {
		t.Fatalf("production must fail closed, got %v", err)
	}
	var verr *VerificationError
	if !errors.As(err, &verr) || verr.Provider != "stripe" {
		t.Fatalf("expected provider on error, got %v", err)
	}

	dev := &Verifier{Provider: "stripe", DevMode: true, Logger: logger}
	if err := dev.Verify("", payload); err != nil {
		t.Fatalf("development mode should accept, got %v", err)
	}
	if !strings.Contains(logs.String(), `"level":"WARN"`) {
		t.Fatalf("bypass must be logged at WARN: %s", logs.String())
	}
}

func TestVerifier_SetsProvider(t *testing.T) {
	v := &Verifier{Provider: "calendly", Scheme: SchemeTimestamped, Secret: secret, Options: fixed}
	err := v.Verify(SignTimestamped(payload, "other", now), payload)
	var verr *VerificationError
	if !errors.As(err, &verr) || verr.Provider != "calendly" || !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestParseScheme(t *testing.T) {
	if s, err := ParseScheme(""); err != nil || s != SchemeTimestamped {
		t.Fatalf("empty scheme should default to timestamped")
	}
	if s, err := ParseScheme("PLAIN"); err != nil || s != SchemePlain {
		t.Fatalf("expected plain")
	}
	if _, err := ParseScheme("md5"); err == nil {
		t.Fatal("expected unknown scheme error")
	}
}
