package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/xraph/herald/signature"
)

func TestSignKnownVector(t *testing.T) {
	signer := signature.NewSigner()
	payload := []byte(`{"event":"test"}`)
	secret := "whsec_testsecret123"

	got := signer.Sign(payload, secret)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if got != expected {
		t.Errorf("Sign() = %q, want %q", got, expected)
	}
}

func TestSignDeterministic(t *testing.T) {
	payload := []byte(`{"order_id":"ord_1","total":42}`)
	if signature.Sign(payload, "whsec_a") != signature.Sign(payload, "whsec_a") {
		t.Error("Sign() is not deterministic")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signer := signature.NewSigner()
	payload := []byte(`{"invoice_id":"inv_01h2x","amount":9900}`)
	secret := signature.GenerateSecret()

	sig := signer.Sign(payload, secret)
	if !signer.Verify(payload, secret, sig) {
		t.Error("Verify() returned false for valid signature")
	}
}

func TestDistinctSecretsDistinctSignatures(t *testing.T) {
	payload := []byte(`{"x":1}`)
	a := signature.Sign(payload, signature.GenerateSecret())
	b := signature.Sign(payload, signature.GenerateSecret())
	if a == b {
		t.Error("different secrets produced the same signature")
	}
}

func TestVerifyRejects(t *testing.T) {
	payload := []byte(`{"original":true}`)
	secret := "whsec_tampersecret"
	sig := signature.Sign(payload, secret)

	tests := []struct {
		name    string
		payload []byte
		secret  string
		sig     string
	}{
		{"tampered payload", []byte(`{"original":false}`), secret, sig},
		{"wrong secret", payload, "whsec_wrong", sig},
		{"missing prefix", payload, secret, sig[len("sha256="):]},
		{"wrong prefix", payload, secret, "sha1=" + sig[len("sha256="):]},
		{"not hex", payload, secret, "sha256=zzzz"},
		{"truncated", payload, secret, sig[:len(sig)-2]},
		{"empty", payload, secret, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if signature.Verify(tt.payload, tt.secret, tt.sig) {
				t.Errorf("Verify() accepted %q", tt.sig)
			}
		})
	}
}

func TestSignatureFormat(t *testing.T) {
	sig := signature.Sign([]byte("test"), "secret")

	if len(sig) < 7 || sig[:7] != "sha256=" {
		t.Errorf("signature should start with 'sha256=', got %q", sig)
	}

	// sha256= prefix (7) + 64 hex chars
	if len(sig) != 71 {
		t.Errorf("expected signature length 71, got %d", len(sig))
	}
}
