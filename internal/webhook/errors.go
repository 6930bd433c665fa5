package webhook

import "errors"

var (
	// ErrMissingSignature means the X-Hub-Signature-256 header was absent.
	ErrMissingSignature = errors.New("missing X-Hub-Signature-256 header")
	// ErrSignatureFormat means the header was not "sha256=<hash>".
	ErrSignatureFormat = errors.New("invalid signature format, expected 'sha256=<hash>'")
	// ErrSignatureMismatch means the payload was not signed with our secret.
	ErrSignatureMismatch = errors.New("signature mismatch")
	// ErrNoSecret means the handler was configured without a secret.
	ErrNoSecret = errors.New("webhook secret not configured")
)
