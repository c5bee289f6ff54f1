package vfs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var counterPattern = regexp.MustCompile(`^(.*) \((\d+)\)$`)

// UpcountName returns the next candidate for a taken name:
//
//	report.txt      -> report (1).txt
//	report (1).txt  -> report (2).txt
//	notes           -> notes (1)
//	notes (9)       -> notes (10)
//	.bashrc         -> .bashrc (1)
func UpcountName(name string) string {
	base, ext := splitExt(name)

	if m := counterPattern.FindStringSubmatch(base); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil {
			return fmt.Sprintf("%s (%d)%s", m[1], n+1, ext)
		}
	}

	return fmt.Sprintf("%s (1)%s", base, ext)
}

// splitExt separates the final extension. Leading-dot names, names ending
// in a dot and "extensions" containing spaces have none.
func splitExt(name string) (string, string) {
	i := strings.LastIndex(name, ".")
	if i <= 0 || i == len(name)-1 || strings.Contains(name[i:], " ") {
		return name, ""
	}
	return name[:i], name[i:]
}
