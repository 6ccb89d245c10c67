package serial

import (
	"strings"
)

// Length is the size of a canonical asset serial.
const Length = 7

// minDistinct rejects degenerate windows such as "AAAAAAA".
const minDistinct = 3

// letterFor maps digits that are commonly misread inside letter runs.
var letterFor = map[byte]byte{
	'0': 'O',
	'1': 'I',
	'5': 'S',
	'6': 'G',
	'8': 'B',
	'9': 'G',
}

// Candidate is a scanned payload converted into a serial for inventory lookup
type Candidate struct {
	Raw         string   `json:"raw"`
	Normalized  string   `json:"normalized"`
	IsCanonical bool     `json:"is_canonical"`
	Alternates  []string `json:"alternates,omitempty"`
}

// ExtractCandidates returns every 7-character window of every alphanumeric
// run in text, in order of appearance and without duplicates. Windows with
// fewer than three distinct characters are dropped.
func ExtractCandidates(text string) []string {
	candidates := make([]string, 0)
	seen := make(map[string]struct{})

	for _, run := range alnumRuns(text) {
		for i := 0; i+Length <= len(run); i++ {
			window := run[i : i+Length]
			if distinct(window) < minDistinct {
				continue
			}
			if _, ok := seen[window]; ok {
				continue
			}
			seen[window] = struct{}{}
			candidates = append(candidates, window)
		}
	}
	return candidates
}

// Normalize uppercases token and replaces digits that sit between two
// letters with the letter they are usually mistaken for. Tokens that are not
// exactly Length characters long come back uppercased and otherwise untouched.
func Normalize(token string) string {
	upper := strings.ToUpper(token)
	if len(upper) != Length || !isAlnum(upper) {
		return upper
	}

	out := []byte(upper)
	for i := 1; i < len(upper)-1; i++ {
		letter, ok := letterFor[upper[i]]
		if !ok {
			continue
		}
		if isLetter(upper[i-1]) && isLetter(upper[i+1]) {
			out[i] = letter
		}
	}

	if len(out) != Length {
		return upper
	}
	return string(out)
}

// FromPayload converts a raw decoded payload into a Candidate.
func FromPayload(payload string) Candidate {
	trimmed := strings.TrimSpace(payload)

	if len(trimmed) != Length {
		// Linear barcodes carry their own formats; they are matched verbatim.
		c := Candidate{Raw: trimmed, Normalized: trimmed}
		for _, window := range ExtractCandidates(trimmed) {
			c.Alternates = append(c.Alternates, Normalize(window))
		}
		return c
	}

	windows := ExtractCandidates(trimmed)
	if len(windows) != 1 || windows[0] != trimmed {
		return Candidate{Raw: trimmed, Normalized: trimmed}
	}

	normalized := Normalize(trimmed)
	if len(normalized) != Length || distinct(normalized) < minDistinct {
		return Candidate{Raw: trimmed, Normalized: trimmed}
	}
	return Candidate{Raw: trimmed, Normalized: normalized, IsCanonical: true}
}

// LookupKeys returns the keys to try against the inventory, most specific first.
func (c Candidate) LookupKeys() []string {
	keys := make([]string, 0, 2+len(c.Alternates))
	seen := make(map[string]struct{})
	add := func(k string) {
		if k == "" {
			return
		}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	add(c.Normalized)
	for _, alt := range c.Alternates {
		add(alt)
	}
	add(c.Raw)
	return keys
}

func alnumRuns(text string) []string {
	var runs []string
	start := -1
	for i := 0; i < len(text); i++ {
		if isAlnumByte(text[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			runs = append(runs, text[start:i])
			start = -1
		}
	}
	if start >= 0 {
		runs = append(runs, text[start:])
	}
	return runs
}

func distinct(s string) int {
	set := make(map[byte]struct{}, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		set[c] = struct{}{}
	}
	return len(set)
}

func isAlnum(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isAlnumByte(s[i]) {
			return false
		}
	}
	return true
}

func isAlnumByte(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9')
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}
