// Package webhook authenticates provider callbacks signed with HMAC-SHA256.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
)

type Scheme string

const (
	// SchemeTimestamped headers look like "t=1700000000,v1=<hex>,v1=<hex>"; the MAC covers
	// "{t}.{payload}".
	SchemeTimestamped Scheme = "timestamped"
	// SchemePlain headers carry the hex MAC of the payload, optionally prefixed "sha256=".
	SchemePlain Scheme = "plain"
)

func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case SchemeTimestamped, "":
		return SchemeTimestamped, nil
	case SchemePlain:
		return SchemePlain, nil
	}
	return "", fmt.Errorf("unknown webhook signature scheme %q", s)
}

const DefaultTolerance = 5 * time.Minute

var (
	ErrNoSecret          = errors.New("no signing secret configured")
	ErrMissingHeader     = errors.New("missing signature header")
	ErrMalformedHeader   = errors.New("malformed signature header")
	ErrNoSignatures      = errors.New("no signatures found for scheme")
	ErrTimestampExpired  = errors.New("timestamp outside tolerance")
	ErrSignatureMismatch = errors.New("signature mismatch")
)

type VerificationError struct {
	Provider string
	Reason   error
}

func (e *VerificationError) Error() string {
	if e.Provider == "" {
		return "webhook verification failed: " + e.Reason.Error()
	}
	return fmt.Sprintf("%s webhook verification failed: %v", e.Provider, e.Reason)
}

func (e *VerificationError) Unwrap() []error {
	return []error{e.Reason, apperr.Authentication(nil, "invalid webhook signature")}
}

type Options struct {
	// Tolerance bounds |now - t| for the timestamped scheme. Zero means DefaultTolerance.
	Tolerance time.Duration
	// SignatureTag selects which header entries hold signatures. Zero means "v1".
	SignatureTag string
	Now          func() time.Time
}

// Verify returns nil iff header carries a valid signature of payload under secret.
// Every failure is a *VerificationError.
func Verify(header string, payload []byte, secret string, scheme Scheme, opts Options) error {
	if secret == "" {
		return &VerificationError{Reason: ErrNoSecret}
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return &VerificationError{Reason: ErrMissingHeader}
	}
	switch scheme {
	case SchemePlain:
		return verifyPlain(header, payload, secret)
	case SchemeTimestamped, "":
		return verifyTimestamped(header, payload, secret, opts)
	}
	return &VerificationError{Reason: fmt.Errorf("%w: unsupported scheme %q", ErrMalformedHeader, scheme)}
}

func verifyPlain(header string, payload []byte, secret string) error {
	header = strings.TrimPrefix(header, "sha256=")
	got, err := hex.DecodeString(header)
	if err != nil {
		return &VerificationError{Reason: ErrMalformedHeader}
	}
	if !hmac.Equal(got, computeMAC(secret, payload)) {
		return &VerificationError{Reason: ErrSignatureMismatch}
	}
	return nil
}

func verifyTimestamped(header string, payload []byte, secret string, opts Options) error {
	tag := opts.SignatureTag
	if tag == "" {
		tag = "v1"
	}
	ts, sigs, err := parseTimestamped(header, tag)
	if err != nil {
		return &VerificationError{Reason: err}
	}

	tolerance := opts.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	skew := now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return &VerificationError{Reason: ErrTimestampExpired}
	}

	expected := computeMAC(secret, signedPayload(ts, payload))
	// Check every candidate so the comparison count does not depend on which one matched.
	matched := false
	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			matched = true
		}
	}
	if !matched {
		return &VerificationError{Reason: ErrSignatureMismatch}
	}
	return nil
}

func parseTimestamped(header, tag string) (int64, [][]byte, error) {
	var (
		ts    int64
		seenT bool
		sigs  [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "t":
			if seenT {
				return 0, nil, ErrMalformedHeader
			}
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, ErrMalformedHeader
			}
			ts, seenT = n, true
		case tag:
			sig, err := hex.DecodeString(value)
			if err != nil || len(sig) == 0 {
				continue
			}
			sigs = append(sigs, sig)
		}
	}
	if !seenT {
		return 0, nil, ErrMalformedHeader
	}
	if len(sigs) == 0 {
		return 0, nil, ErrNoSignatures
	}
	return ts, sigs, nil
}

func signedPayload(ts int64, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+21)
	out = strconv.AppendInt(out, ts, 10)
	out = append(out, '.')
	return append(out, payload...)
}

func computeMAC(secret string, data []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(data)
	return mac.Sum(nil)
}

// SignTimestamped builds a timestamped header for payload. Used by tests and tooling.
func SignTimestamped(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(computeMAC(secret, signedPayload(ts, payload))))
}

func SignPlain(payload []byte, secret string) string {
	return hex.EncodeToString(computeMAC(secret, payload))
}

// Verifier binds a provider's secret and scheme. With no secret it fails closed unless
// DevMode is set, in which case every bypass is logged at WARN.
type Verifier struct {
	Provider string
	Scheme   Scheme
	Secret   string
	DevMode  bool
	Options  Options
	Logger   *slog.Logger
}

func (v *Verifier) Verify(header string, payload []byte) error {
	if v.Secret == "" {
		if v.DevMode {
			if v.Logger != nil {
				v.Logger.Warn("webhook signature check bypassed (development mode, no secret)",
					"provider", v.Provider,
					"payload_bytes", len(payload),
				)
			}
			return nil
		}
		return &VerificationError{Provider: v.Provider, Reason: ErrNoSecret}
	}
	if err := Verify(header, payload, v.Secret, v.Scheme, v.Options); err != nil {
		var verr *VerificationError
		if errors.As(err, &verr) {
			verr.Provider = v.Provider
		}
		return err
	}
	return nil
}
