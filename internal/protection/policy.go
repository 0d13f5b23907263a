// Package protection transforms whole records into and out of their
// protected shape using the field cipher and masking rules.
package protection

import (
	"errors"
	"log/slog"

	"vaultrail/internal/crypto"
	"vaultrail/internal/masking"
	"vaultrail/pkg/platform/sentinel"
)

// ProtectedField is the persisted shape of a sensitive column: ciphertext
// for authorized reads, a masked display value for everyone else.
type ProtectedField struct {
	Encrypted crypto.EncryptedValue `json:"encrypted"`
	Masked    masking.MaskedValue   `json:"masked"`
}

// Policy applies field-level protection to records.
type Policy struct {
	cipher *crypto.Service
	logger *slog.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithLogger sets a logger for per-field decrypt failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Policy) { p.logger = logger }
}

// NewPolicy creates a protection policy over the given cipher service.
func NewPolicy(cipher *crypto.Service, opts ...Option) *Policy {
	p := &Policy{cipher: cipher}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Protect replaces each configured string field with a ProtectedField.
// Fields that are absent, non-string, or empty pass through unchanged.
// Encryption failure on any field aborts: a record must never be persisted
// half-protected.
func (p *Policy) Protect(record map[string]any, fields []FieldConfig) (map[string]any, error) {
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}

	for _, cfg := range fields {
		raw, ok := out[cfg.Field].(string)
		if !ok || raw == "" {
			continue
		}
		encrypted, err := p.cipher.Encrypt(raw)
		if err != nil {
			return nil, err
		}
		out[cfg.Field] = ProtectedField{
			Encrypted: encrypted,
			Masked:    masking.Mask(raw, cfg.Type),
		}
	}
	return out, nil
}

// Unprotect resolves each named field to plaintext when hasPermission is
// true, or to its masked display value otherwise. Fields not in protected
// shape pass through unchanged so legacy plaintext rows are not
// double-processed.
//
// A failed decrypt never aborts the record: the field keeps its protected
// shape, the failure is logged, and remaining fields continue. Only
// ErrKeyNotFound propagates — it is fatal by contract.
func (p *Policy) Unprotect(record map[string]any, fields []string, hasPermission bool) (map[string]any, error) {
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}

	for _, name := range fields {
		pf, ok := AsProtectedField(out[name])
		if !ok {
			continue
		}

		if !hasPermission {
			out[name] = pf.Masked.Display
			continue
		}

		plaintext, err := p.cipher.Decrypt(pf.Encrypted)
		if err != nil {
			if errors.Is(err, sentinel.ErrKeyNotFound) {
				return nil, err
			}
			if p.logger != nil {
				p.logger.Warn("field left protected after decrypt failure",
					"field", name,
					"key_version", pf.Encrypted.KeyVersion,
				)
			}
			continue
		}
		out[name] = plaintext
	}
	return out, nil
}

// AsProtectedField recognizes both the typed shape and the generic map shape
// a ProtectedField takes after a round trip through a JSON document store.
func AsProtectedField(v any) (ProtectedField, bool) {
	switch pf := v.(type) {
	case ProtectedField:
		return pf, true
	case *ProtectedField:
		return *pf, true
	case map[string]any:
		enc, ok := pf["encrypted"].(map[string]any)
		if !ok {
			return ProtectedField{}, false
		}
		masked, ok := pf["masked"].(map[string]any)
		if !ok {
			return ProtectedField{}, false
		}
		ciphertext, ok := enc["ciphertext"].(string)
		if !ok {
			return ProtectedField{}, false
		}
		iv, _ := enc["iv"].(string)
		algorithm, _ := enc["algorithm"].(string)
		display, _ := masked["display"].(string)
		semantic, _ := masked["type"].(string)

		version := 0
		switch kv := enc["key_version"].(type) {
		case int:
			version = kv
		case float64:
			version = int(kv)
		}

		return ProtectedField{
			Encrypted: crypto.EncryptedValue{
				Ciphertext: ciphertext,
				IV:         iv,
				KeyVersion: version,
				Algorithm:  algorithm,
			},
			Masked: masking.MaskedValue{
				Display: display,
				Type:    masking.SemanticType(semantic),
			},
		}, true
	default:
		return ProtectedField{}, false
	}
}
