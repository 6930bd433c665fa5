package webhook

import (
	"errors"
	"testing"
)

func TestVerify(t *testing.T) {
	secret := "test-secret"
	payload := []byte("test payload")
	validHash := Sign(payload, secret)
	validSignature := "sha256=" + validHash

	tests := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
		want      error
	}{
		{
			name:      "valid signature",
			payload:   payload,
			signature: validSignature,
			secret:    secret,
			want:      nil,
		},
		{
			name:      "invalid signature",
			payload:   payload,
			signature: "sha256=invalidsignature",
			secret:    secret,
			want:      ErrSignatureMismatch,
		},
		{
			name:      "wrong secret",
			payload:   payload,
			signature: validSignature,
			secret:    "wrong-secret",
			want:      ErrSignatureMismatch,
		},
		{
			name:      "missing sha256 prefix",
			payload:   payload,
			signature: validHash,
			secret:    secret,
			want:      ErrSignatureFormat,
		},
		{
			name:      "sha1 prefix",
			payload:   payload,
			signature: "sha1=abc123",
			secret:    secret,
			want:      ErrSignatureFormat,
		},
		{
			name:      "empty signature",
			payload:   payload,
			signature: "",
			secret:    secret,
			want:      ErrMissingSignature,
		},
		{
			name:      "different payload",
			payload:   []byte("different payload"),
			signature: validSignature,
			secret:    secret,
			want:      ErrSignatureMismatch,
		},
		{
			name:      "no secret configured",
			payload:   payload,
			signature: validSignature,
			secret:    "",
			want:      ErrNoSecret,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.signature, tt.payload, tt.secret)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVerify_AlmostValidSignature(t *testing.T) {
	secret := "test-secret"
	payload := []byte("test payload")
	valid := "sha256=" + Sign(payload, secret)
	almostValid := valid[:len(valid)-1] + "X"

	if err := Verify(almostValid, payload, secret); !errors.Is(err, ErrSignatureMismatch) {
		t.Errorf("Verify() with almost valid signature = %v, want mismatch", err)
	}
	if err := Verify(valid, payload, secret); err != nil {
		t.Errorf("Verify() with valid signature = %v, want nil", err)
	}
}
