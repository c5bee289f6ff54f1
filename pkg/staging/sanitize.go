package staging

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const replacement = '-'

// reserved lists characters that are unsafe in file names on at least one
// common filesystem, or that need quoting in shells and URLs.
const reserved = `<>:"/\|?*` + "#[]@!$&'()+,;=" + "{}^~`"

func unsafeRune(r rune) bool {
	switch {
	case r < 0x20, r == 0x7F:
		return true
	case r == '\u00a0', r == '\u00ad':
		return true
	case r == utf8.RuneError:
		return true
	}
	return strings.ContainsRune(reserved, r)
}

// Sanitize maps name onto a safe single-segment file name: unsafe
// characters become '-', leading dots and dashes are dropped, and the
// result is cut to maxBytes while keeping the extension. An empty result
// means the name has no usable characters.
func Sanitize(name string, maxBytes int) string {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxNameBytes
	}

	clean := strings.Map(func(r rune) rune {
		if unsafeRune(r) {
			return replacement
		}
		return r
	}, name)

	clean = strings.TrimLeft(clean, ".-")
	if len(clean) <= maxBytes {
		return clean
	}

	ext := filepath.Ext(clean)
	if len(ext) >= maxBytes || ext == clean {
		ext = ""
	}

	return truncate(strings.TrimSuffix(clean, ext), maxBytes-len(ext)) + ext
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
