package channel

import "strings"

// DefaultCitationMarker is the annotation the assistant backend leaves in
// replies that cite retrieved files.
const DefaultCitationMarker = "【6:0†source】"

// Sanitize removes every occurrence of marker and drops all characters
// outside printable ASCII (0x20-0x7E), newlines included. Both steps repeat
// until neither changes the text, so a marker rejoined by the filter is
// removed too and Sanitize is idempotent.
func Sanitize(text, marker string) string {
	for {
		out := printable(removeMarker(text, marker))
		if out == text {
			return out
		}
		text = out
	}
}

func removeMarker(text, marker string) string {
	if marker == "" {
		return text
	}
	for strings.Contains(text, marker) {
		text = strings.ReplaceAll(text, marker, "")
	}
	return text
}

func printable(text string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7E {
			return -1
		}
		return r
	}, text)
}
