package channels

import (
	"strings"
	"testing"
)

func TestAllowlist(t *testing.T) {
	a := NewAllowlist([]string{"111", "222"})
	if !a.Contains("111") || !a.Contains("222") {
		t.Fatal("allowlisted id missing")
	}
	if a.Contains("333") {
		t.Fatal("unknown id allowed")
	}
}

func TestSplitMessage(t *testing.T) {
	t.Run("short passes through", func(t *testing.T) {
		chunks := SplitMessage("hello", 2000)
		if len(chunks) != 1 || chunks[0] != "hello" {
			t.Fatalf("chunks = %v", chunks)
		}
	})

	t.Run("breaks at newline", func(t *testing.T) {
		content := strings.Repeat("x", 60) + "\n" + strings.Repeat("y", 60)
		chunks := SplitMessage(content, 100)
		if len(chunks) != 2 {
			t.Fatalf("chunks = %d, want 2", len(chunks))
		}
		if !strings.HasSuffix(chunks[0], "\n") {
			t.Fatal("first chunk did not break at the newline")
		}
	})

	t.Run("hard split without newline", func(t *testing.T) {
		content := strings.Repeat("z", 250)
		chunks := SplitMessage(content, 100)
		if len(chunks) != 3 {
			t.Fatalf("chunks = %d, want 3", len(chunks))
		}
		for _, c := range chunks {
			if len(c) > 100 {
				t.Fatalf("chunk length %d exceeds limit", len(c))
			}
		}
		if strings.Join(chunks, "") != content {
			t.Fatal("content lost in splitting")
		}
	})
}
