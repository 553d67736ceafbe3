// Package channels holds helpers shared by platform gateway implementations.
package channels

// Allowlist is a set of monitored channel IDs.
type Allowlist map[string]struct{}

// NewAllowlist builds an allowlist from config.
func NewAllowlist(ids []string) Allowlist {
	a := make(Allowlist, len(ids))
	for _, id := range ids {
		a[id] = struct{}{}
	}
	return a
}

// Contains reports whether id is allowlisted.
func (a Allowlist) Contains(id string) bool {
	_, ok := a[id]
	return ok
}

// SplitMessage splits content into chunks of at most maxLen bytes, breaking
// at a newline when one falls in the second half of the chunk.
func SplitMessage(content string, maxLen int) []string {
	var chunks []string
	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxLen {
			cutAt := maxLen
			if idx := lastIndexByte(content[:maxLen], '\n'); idx > maxLen/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func lastIndexByte(s string, c byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == c {
			return i
		}
	}
	return -1
}
