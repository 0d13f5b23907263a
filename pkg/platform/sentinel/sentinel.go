package sentinel

import "errors"

// Sentinel errors for infrastructure and cryptographic facts. Stores, the cipher
// layer, and the rule engine return these (optionally wrapped) so services can
// translate them into caller-facing errors.
//
// These represent factual states, not validation failures:
// - ErrKeyNotFound: ciphertext references a purged key version. Fatal, never
//   retried, never substituted with different plaintext.
// - ErrDecryptionFailed: corrupt ciphertext or key mismatch. Field-local;
//   record-level callers skip the field and continue.
// - ErrStoreUnavailable: durable store unreachable. Recoverable; the audit
//   pipeline falls back to the local log, CRUD callers see a normal error.
// - ErrRuleEvaluation: one alert rule failed. Logged, remaining rules still run.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrKeyNotFound      = errors.New("key version not found")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidState     = errors.New("invalid state")
	ErrRuleEvaluation   = errors.New("rule evaluation failed")
)
