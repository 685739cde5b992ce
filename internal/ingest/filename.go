package ingest

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// DecodeLegacyName fixes file names that upload clients transmit as raw
// UTF-8 bytes but that the multipart layer decoded as Latin-1, turning
// "Công văn.pdf" into mojibake. The repair re-encodes the runes back to
// their original bytes and reinterprets them as UTF-8.
//
// The function is idempotent: a name that already contains runes outside
// Latin-1 (i.e. was decoded before, or arrived correctly) is returned
// unchanged, so applying it twice is safe.
func DecodeLegacyName(name string) string {
	for _, r := range name {
		if r > 0xFF {
			return name
		}
	}

	raw, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return name
	}
	if !utf8.Valid(raw) {
		return name
	}
	return string(raw)
}
