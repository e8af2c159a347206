package toolcodec

// SplitSafe splits accumulated-but-unflushed text into a prefix that is safe
// to forward to the client and a remainder that must stay withheld because it
// could still complete into a tool element across later chunks. Trailing
// whitespace is withheld with it so an invocation arriving next never leaves
// stray separators in the forwarded content.
func SplitSafe(text string) (safe, held string) {
	heldFrom := len(text)
	pos := 0
	for pos < len(text) {
		idx := indexByteFrom(text, '<', pos)
		if idx < 0 {
			break
		}
		if viableToolPrefix(text[idx:]) {
			heldFrom = idx
			break
		}
		pos = idx + 1
	}

	cut := heldFrom
	for cut > 0 && isSpace(text[cut-1]) {
		cut--
	}
	return text[:cut], text[cut:]
}

// viableToolPrefix reports whether s, which starts with '<', could still be
// the beginning of a tool element. A completed opening tag naming a known
// non-tool wrapper is not viable, nor is anything that stops matching the
// `<name>` shape.
func viableToolPrefix(s string) bool {
	if len(s) == 1 {
		return true
	}
	if !isNameStart(s[1]) {
		return false
	}
	j := 2
	for j < len(s) && isNameChar(s[j]) {
		j++
	}
	if j == len(s) {
		return true
	}
	if s[j] != '>' {
		return false
	}
	return !isNonToolWrapper(s[1:j])
}

func indexByteFrom(s string, c byte, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || c == '-' || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
