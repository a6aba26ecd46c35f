package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeName case-folds and trims a patient name so that
// "Maria Silva" and " maria silva" group together
func NormalizeName(name string) string {
	return strings.TrimSpace(cases.Fold().String(name))
}

// NormalizeText case-folds, trims and collapses inner whitespace
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(cases.Fold().String(text)), " ")
}

// HashText returns the hex sha256 of the normalized text
func HashText(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// FillTemplate replaces {placeholder} tokens with their values.
// Unknown placeholders are left untouched.
func FillTemplate(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	out := strings.NewReplacer(pairs...).Replace(template)
	return strings.Join(strings.Fields(out), " ")
}
