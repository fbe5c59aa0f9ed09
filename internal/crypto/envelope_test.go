package crypto

import (
	"strings"
	"testing"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	key, err := KeyFromSecret([]byte("process-secret"), []byte("salt"))
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	codec, err := NewCodec(key)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return codec
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	codec := testCodec(t)

	for _, plaintext := range []string{"", "hunter2", "longer credential with spaces and unicode ünïcode", `{"token":"abc"}`} {
		t.Run(plaintext, func(t *testing.T) {
			enc, err := codec.Encrypt(plaintext)
			if err != nil {
				t.Fatalf("encrypt: %v", err)
			}
			if !strings.HasPrefix(enc, "encwc.v1:") {
				t.Fatalf("missing envelope prefix: %q", enc)
			}
			if parts := strings.Split(enc, ":"); len(parts) != 4 {
				t.Fatalf("envelope has %d parts, want 4", len(parts))
			}

			dec, err := codec.Decrypt(enc)
			if err != nil {
				t.Fatalf("decrypt: %v", err)
			}
			if dec != plaintext {
				t.Errorf("round trip changed the value: %q → %q", plaintext, dec)
			}
		})
	}
}

func TestDecryptPassesThroughPlaintext(t *testing.T) {
	codec := testCodec(t)
	for _, s := range []string{"plain-legacy-token", "", "not:an:envelope"} {
		got, err := codec.Decrypt(s)
		if err != nil {
			t.Fatalf("decrypt %q: %v", s, err)
		}
		if got != s {
			t.Errorf("non-envelope string changed: %q → %q", s, got)
		}
	}
}

func TestDecryptRejectsTamperedEnvelope(t *testing.T) {
	codec := testCodec(t)
	enc, err := codec.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	tampered := enc[:len(enc)-2] + "zz"
	if _, err := codec.Decrypt(tampered); err == nil {
		t.Error("tampered ciphertext decrypted without error")
	}
}

func TestDecryptRejectsMalformedEnvelope(t *testing.T) {
	codec := testCodec(t)
	if _, err := codec.Decrypt("encwc.v1:onlyonepart"); err == nil {
		t.Error("malformed envelope accepted")
	}
}

func TestNonceUniqueness(t *testing.T) {
	codec := testCodec(t)
	a, _ := codec.Encrypt("same plaintext")
	b, _ := codec.Encrypt("same plaintext")
	if a == b {
		t.Error("two encryptions produced identical envelopes")
	}
}

func TestIsEnvelope(t *testing.T) {
	if IsEnvelope("plain") {
		t.Error("plain string classified as envelope")
	}
	if !IsEnvelope("encwc.v1:a:b:c") {
		t.Error("envelope string not recognized")
	}
}

func TestNewCodecRejectsBadKeySize(t *testing.T) {
	if _, err := NewCodec([]byte("short")); err == nil {
		t.Error("short key accepted")
	}
}
