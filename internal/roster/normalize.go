package roster

import (
	"sort"
	"strings"

	"github.com/guildtools/herald/internal/types"
)

// NormalizeWeapons canonicalizes a raw weapons string: uppercase,
// split on `/` or `,`, both tokens validated against the game's
// catalogue, sorted alphabetically and rejoined with `/`. Anything
// invalid or of the wrong cardinality yields "NULL".
func NormalizeWeapons(raw string, catalog *types.StaticCatalog) string {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" || raw == "NULL" {
		return types.ClassUnknown
	}
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '/' || r == ','
	})
	if len(tokens) != 2 {
		return types.ClassUnknown
	}
	for i, tok := range tokens {
		tokens[i] = strings.TrimSpace(tok)
		if !catalog.ValidWeapon(tokens[i]) {
			return types.ClassUnknown
		}
	}
	sort.Strings(tokens)
	return tokens[0] + "/" + tokens[1]
}

// DeriveClass resolves the class of a normalized weapons pair through
// the game's combinations table. Unknown pairs yield "NULL".
func DeriveClass(normalized string, catalog *types.StaticCatalog) string {
	parts := strings.Split(normalized, "/")
	if len(parts) != 2 {
		return types.ClassUnknown
	}
	return catalog.ClassFor(parts[0], parts[1])
}

// BaseLanguage strips a locale code to its base language: "fr-FR"
// becomes "fr". Empty input defaults to "en".
func BaseLanguage(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return "en"
	}
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	return strings.ToLower(locale)
}
