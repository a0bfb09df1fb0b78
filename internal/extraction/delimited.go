package extraction

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// decodeDelimited returns delimited text as UTF-8. A byte order mark picks
// the encoding; otherwise valid UTF-8 passes through and anything else is
// read as legacyCharset.
func decodeDelimited(data []byte, legacyCharset string) string {
	if hasBOM(data) {
		// The fallback is only consulted when no BOM is present
		dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
		if out, _, err := transform.Bytes(dec, data); err == nil {
			return string(out)
		}
	}
	if utf8.Valid(data) {
		return string(data)
	}

	enc := legacyEncoding(legacyCharset)
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return string(bytes.ToValidUTF8(data, []byte("�")))
	}
	return string(out)
}

func hasBOM(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) ||
		bytes.HasPrefix(data, []byte{0xFE, 0xFF}) ||
		bytes.HasPrefix(data, []byte{0xFF, 0xFE})
}

func legacyEncoding(name string) encoding.Encoding {
	if name != "" {
		if enc, err := htmlindex.Get(name); err == nil {
			return enc
		}
	}
	enc, _ := htmlindex.Get("windows-1252")
	return enc
}
