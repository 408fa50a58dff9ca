// Package i18n resolves user-visible strings from a JSON translation
// bundle. The bundle is loaded once at start and never reloaded.
package i18n

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// DefaultLocale terminates every locale chain.
const DefaultLocale = "en-US"

// maxBundleBytes caps the bundle file size.
const maxBundleBytes = 8 << 20

// Bundle is an immutable locale -> key -> message table.
type Bundle struct {
	messages map[string]map[string]string
	log      *zap.Logger
}

// Load reads and parses the bundle file. Oversized or malformed files
// are a fatal-config error.
func Load(path string, log *zap.Logger) (*Bundle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("translation bundle: %w", err)
	}
	if info.Size() > maxBundleBytes {
		return nil, fmt.Errorf("translation bundle %s: %d bytes exceeds %d byte cap", path, info.Size(), maxBundleBytes)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("translation bundle: %w", err)
	}
	return Parse(raw, log)
}

// Parse builds a bundle from raw JSON. Exposed for tests and embedded
// bundles.
func Parse(raw []byte, log *zap.Logger) (*Bundle, error) {
	var messages map[string]map[string]string
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("translation bundle: %w", err)
	}
	if _, ok := messages[DefaultLocale]; !ok {
		return nil, fmt.Errorf("translation bundle: missing %s table", DefaultLocale)
	}
	return &Bundle{messages: messages, log: log}, nil
}

// Locales lists the loaded locale tables.
func (b *Bundle) Locales() []string {
	out := make([]string, 0, len(b.messages))
	for locale := range b.messages {
		out = append(out, locale)
	}
	return out
}

// Resolve walks the locale chain (member preference, then user, then
// guild language) and falls back to en-US. A key missing from every
// table returns "" and logs an error; callers keep a constant-string
// fallback for that case.
func (b *Bundle) Resolve(key string, chain ...string) string {
	tried := append(append([]string(nil), chain...), DefaultLocale)
	for _, locale := range tried {
		if locale == "" {
			continue
		}
		if msg, ok := b.lookup(locale, key); ok {
			return msg
		}
	}
	b.log.Error("missing translation key",
		zap.String("key", key), zap.Strings("chain", tried))
	return ""
}

// Resolvef is Resolve plus Sprintf expansion of the resolved template.
func (b *Bundle) Resolvef(key string, chain []string, args ...any) string {
	msg := b.Resolve(key, chain...)
	if msg == "" || len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// lookup tries the exact locale, then its base language ("fr-FR" ->
// "fr").
func (b *Bundle) lookup(locale, key string) (string, bool) {
	if table, ok := b.messages[locale]; ok {
		if msg, ok := table[key]; ok {
			return msg, true
		}
	}
	if base, _, found := strings.Cut(locale, "-"); found {
		if table, ok := b.messages[base]; ok {
			if msg, ok := table[key]; ok {
				return msg, true
			}
		}
	}
	return "", false
}
