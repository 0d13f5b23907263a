// Package masking produces display-safe masked strings for sensitive values.
//
// Masking is pure, deterministic and lossy. It never fails a request: input
// that does not match the expected shape for its semantic type degrades to a
// full mask instead of raising.
package masking

import "strings"

// SemanticType tags a value with the masking rule that applies to it.
type SemanticType string

const (
	TypeNationalID SemanticType = "national_id"
	TypeBusinessID SemanticType = "business_id"
	TypePhone      SemanticType = "phone"
	TypeEmail      SemanticType = "email"
	TypeCardNumber SemanticType = "card_number"
	TypeCVV        SemanticType = "cvv"
	TypeGeneric    SemanticType = "generic"
)

// MaskedValue is the display shape of a sensitive field. It is always derived
// from the raw value, never persisted on its own.
type MaskedValue struct {
	Display string       `json:"display"`
	Type    SemanticType `json:"type"`
}

// Mask applies the per-type rule to raw. Unknown types and malformed input
// fall back to a full mask of the same length.
func Mask(raw string, t SemanticType) MaskedValue {
	return MaskedValue{Display: maskDisplay(raw, t), Type: t}
}

func maskDisplay(raw string, t SemanticType) string {
	switch t {
	case TypeNationalID:
		return maskNationalID(raw)
	case TypeBusinessID:
		return maskBusinessID(raw)
	case TypePhone:
		return maskPhone(raw)
	case TypeEmail:
		return maskEmail(raw)
	case TypeCardNumber:
		return maskCardNumber(raw)
	case TypeCVV:
		return "***"
	default:
		return fullMask(raw)
	}
}

func fullMask(raw string) string {
	return strings.Repeat("*", len(raw))
}

func digitsOnly(raw string) bool {
	for _, r := range raw {
		if r < '0' || r > '9' {
			return false
		}
	}
	return raw != ""
}

// maskNationalID keeps the last 2 digits of an 11-digit ID in grouped form:
// 12345678901 -> ***.***.***-01
func maskNationalID(raw string) string {
	if len(raw) != 11 || !digitsOnly(raw) {
		return fullMask(raw)
	}
	return "***.***.***-" + raw[9:]
}

// maskBusinessID keeps the last 2 digits of a 14-digit registration number:
// 12345678000190 -> **.***.***/****-90
func maskBusinessID(raw string) string {
	if len(raw) != 14 || !digitsOnly(raw) {
		return fullMask(raw)
	}
	return "**.***.***/****-" + raw[12:]
}

// maskPhone keeps the 2-digit area code and last 2 digits:
// 11999887766 -> (11) *****-**66
func maskPhone(raw string) string {
	if (len(raw) != 10 && len(raw) != 11) || !digitsOnly(raw) {
		return fullMask(raw)
	}
	middle := strings.Repeat("*", len(raw)-6)
	return "(" + raw[:2] + ") " + middle + "-**" + raw[len(raw)-2:]
}

// maskEmail keeps the first character of the local part and the full domain:
// joao@exemplo.com -> j***@exemplo.com
func maskEmail(raw string) string {
	at := strings.Index(raw, "@")
	if at < 1 || at == len(raw)-1 {
		return fullMask(raw)
	}
	return raw[:1] + "***@" + raw[at+1:]
}

// maskCardNumber keeps the last 4 digits, masking the rest in blocks of 4:
// 4111111111111111 -> **** **** **** 1111
func maskCardNumber(raw string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if len(digits) < 12 || len(digits) > 19 {
		return fullMask(raw)
	}

	masked := strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
	var groups []string
	for i := 0; i < len(masked); i += 4 {
		end := min(i+4, len(masked))
		groups = append(groups, masked[i:end])
	}
	return strings.Join(groups, " ")
}
