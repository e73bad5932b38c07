package engine

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/aethra/civicdesk/internal/models"
)

const (
	defaultPrefix  = "SRV"
	defaultPadding = 4
	minPadding     = 1
	maxPadding     = 12
	derivedLength  = 6
)

// NumberPrefix returns the option's configured prefix, or one derived from its label:
// uppercased, stripped to A-Z and 0-9, first six characters, SRV when nothing is left.
func NumberPrefix(opt *models.ServiceOption) string {
	if opt.RequestNumberPrefix != nil {
		if configured := strings.TrimSpace(*opt.RequestNumberPrefix); configured != "" {
			return strings.ToUpper(configured)
		}
	}

	var b strings.Builder
	for _, r := range strings.ToUpper(opt.Label) {
		if b.Len() == derivedLength {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsUpper(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return defaultPrefix
	}
	return b.String()
}

// ClampPadding keeps a padding width within 1..12
func ClampPadding(padding int) int {
	if padding < minPadding {
		return minPadding
	}
	if padding > maxPadding {
		return maxPadding
	}
	return padding
}

// FormatRequestNumber renders "PREFIX#000042"
func FormatRequestNumber(prefix string, seq, padding int) string {
	return fmt.Sprintf("%s#%0*d", prefix, padding, seq)
}

// NormalizePrefix trims and uppercases an admin supplied prefix; blank becomes nil
func NormalizePrefix(raw *string) *string {
	if raw == nil {
		return nil
	}
	p := strings.ToUpper(strings.TrimSpace(*raw))
	if p == "" {
		return nil
	}
	return &p
}
