// Package language normalizes target-language input and checks translated
// text against the requested language.
//
// Codes are normalized to ISO 639-1 via a small built-in table, falling back
// to BCP 47 parsing through golang.org/x/text. Detection uses lingua-go and is
// advisory only: a mismatch is reported, never enforced.
package language
