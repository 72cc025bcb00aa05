package recipe

import (
	"strconv"
	"strings"
)

// One alphanumeric run of a version label.
type versionPart struct {
	num   uint64
	text  string
	isNum bool
}

// Compares two version labels with numeric-aware ordering.
//
// Labels are split into runs of digits and runs of letters. Digit runs
// compare numerically (so "1.10" sorts above "1.9"), letter runs compare
// lexically, and a numeric run outranks a textual run at the same
// position. Longer labels outrank their own prefixes. The ordering is
// total and stable: identical labels compare equal, and distinct version
// strings are unique per variant directory by construction.
func CompareVersions(a, b string) int {
	ap, bp := versionParts(a), versionParts(b)

	for i := 0; i < len(ap) || i < len(bp); i++ {
		switch {
		case i >= len(ap):
			return -1
		case i >= len(bp):
			return 1
		}

		x, y := ap[i], bp[i]
		switch {
		case x.isNum && y.isNum:
			if x.num != y.num {
				if x.num > y.num {
					return 1
				}
				return -1
			}
		case !x.isNum && !y.isNum:
			if c := strings.Compare(x.text, y.text); c != 0 {
				return c
			}
		case x.isNum:
			return 1
		default:
			return -1
		}
	}

	return 0
}

// Splits a version label into alternating numeric and textual runs.
// Non-alphanumeric characters act as separators.
func versionParts(label string) []versionPart {
	var parts []versionPart
	var buf strings.Builder
	bufIsNum := false

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		parts = append(parts, makePart(buf.String(), bufIsNum))
		buf.Reset()
	}

	for _, ch := range label {
		isAlnum := (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
		if !isAlnum {
			flush()
			continue
		}

		isNum := ch >= '0' && ch <= '9'
		if buf.Len() > 0 && isNum != bufIsNum {
			flush()
		}
		bufIsNum = isNum
		buf.WriteRune(ch)
	}
	flush()

	return parts
}

// Builds a version part, falling back to text when a digit run overflows.
func makePart(piece string, isNum bool) versionPart {
	if isNum {
		if v, err := strconv.ParseUint(piece, 10, 64); err == nil {
			return versionPart{num: v, isNum: true}
		}
	}
	return versionPart{text: strings.ToLower(piece)}
}
