package word

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Legacy .doc: an OLE compound file whose WordDocument stream starts with the
// File Information Block. Noncomplex documents keep their text as one
// contiguous run between fcMin and fcMac; that covers the fast-saved-free
// files this service sees. Complex (incremental-save) and encrypted files
// are declared unsupported rather than risked.

const (
	fibMagic      = 0xA5EC
	flagComplex   = 0x0004
	flagEncrypted = 0x0100
	flagExtChar   = 0x1000
)

func extractDoc(data []byte) (string, error) {
	cf, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open compound file: %w", err)
	}

	var stream []byte
	for entry, err := cf.Next(); err == nil; entry, err = cf.Next() {
		if entry.Name != "WordDocument" {
			continue
		}
		stream, err = io.ReadAll(entry)
		if err != nil {
			return "", fmt.Errorf("read WordDocument stream: %w", err)
		}
		break
	}
	if stream == nil {
		return "", fmt.Errorf("no WordDocument stream")
	}

	return parseDocStream(stream)
}

// parseDocStream reads the FIB and decodes the contiguous text range.
func parseDocStream(stream []byte) (string, error) {
	if len(stream) < 0x20 {
		return "", fmt.Errorf("WordDocument stream truncated")
	}
	if binary.LittleEndian.Uint16(stream[0:2]) != fibMagic {
		return "", fmt.Errorf("not a Word binary document")
	}

	flags := binary.LittleEndian.Uint16(stream[0x0A:0x0C])
	if flags&flagEncrypted != 0 {
		return "", fmt.Errorf("document is encrypted")
	}
	if flags&flagComplex != 0 {
		return "", fmt.Errorf("complex (incrementally saved) document not supported")
	}

	fcMin := binary.LittleEndian.Uint32(stream[0x18:0x1C])
	fcMac := binary.LittleEndian.Uint32(stream[0x1C:0x20])
	if fcMin >= fcMac || int(fcMac) > len(stream) {
		return "", fmt.Errorf("invalid text range %d..%d", fcMin, fcMac)
	}
	raw := stream[fcMin:fcMac]

	var decoded string
	if flags&flagExtChar != 0 {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
		out, err := dec.Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("decode utf-16 text: %w", err)
		}
		decoded = string(out)
	} else {
		out, err := charmap.Windows1252.NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("decode cp1252 text: %w", err)
		}
		decoded = string(out)
	}

	return cleanDocText(decoded), nil
}

// cleanDocText maps Word's internal control characters to plain text:
// paragraph/cell/line marks become newlines, field and object markers are
// dropped.
func cleanDocText(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\r', 0x07, 0x0B, 0x0C:
			sb.WriteByte('\n')
		case '\t', '\n':
			sb.WriteRune(r)
		case 0x13, 0x14, 0x15, 0x01, 0x08:
			// field begin/separator/end, embedded object, picture anchor
		default:
			if r >= 0x20 || r == '\t' {
				sb.WriteRune(r)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}
