package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

const testWebhookSecret = "whsec_test"

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeProvider_ParseEvent(t *testing.T) {
	p := NewStripeProvider("sk_test_dummy", testWebhookSecret)

	tests := []struct {
		name     string
		payload  string
		wantType string
		wantPI   string
	}{
		{
			name:     "intent succeeded",
			payload:  `{"id":"evt_1","object":"event","api_version":"2020-08-27","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","object":"payment_intent","metadata":{"paymentId":"p1"}}}}`,
			wantType: EventIntentSucceeded,
			wantPI:   "pi_123",
		},
		{
			name:     "charge refunded",
			payload:  `{"id":"evt_2","object":"event","api_version":"2020-08-27","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge","payment_intent":"pi_456"}}}`,
			wantType: EventChargeRefunded,
			wantPI:   "pi_456",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := []byte(tt.payload)
			ev, err := p.ParseEvent(payload, sign(payload, testWebhookSecret, time.Now()))
			if err != nil {
				t.Fatalf("ParseEvent: %v", err)
			}
			if ev.Type != tt.wantType || ev.IntentID != tt.wantPI {
				t.Errorf("event = %+v, want %s/%s", ev, tt.wantType, tt.wantPI)
			}
		})
	}
}

func TestStripeProvider_RejectsBadSignature(t *testing.T) {
	p := NewStripeProvider("sk_test_dummy", testWebhookSecret)
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)

	cases := map[string]string{
		"wrong secret": sign(payload, "whsec_other", time.Now()),
		"stale":        sign(payload, testWebhookSecret, time.Now().Add(-time.Hour)),
		"garbage":      "not-a-signature",
	}
	for name, sig := range cases {
		if _, err := p.ParseEvent(payload, sig); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("%s: err = %v, want ErrInvalidSignature", name, err)
		}
	}
}
