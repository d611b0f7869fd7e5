package tgfmt

import (
	"strings"
	"testing"
)

func TestEscaping(t *testing.T) {
	t.Parallel()

	if got := Esc(`<b>&"'`); got != H("&lt;b&gt;&amp;&#34;&#39;") {
		t.Fatalf("Esc = %q", got)
	}
	if got := B("a<b"); got != H("<b>a&lt;b</b>") {
		t.Fatalf("B = %q", got)
	}
	if got := Code("x&y"); got != H("<code>x&amp;y</code>") {
		t.Fatalf("Code = %q", got)
	}
	if got := Raw("<i>keep</i>"); got != H("<i>keep</i>") {
		t.Fatalf("Raw = %q", got)
	}
}

func TestLink(t *testing.T) {
	t.Parallel()
	got := Link(`click "here"`, `https://x.test/?a=1&b=2`)
	if !strings.Contains(string(got), `href="https://x.test/?a=1&amp;b=2"`) {
		t.Fatalf("url not escaped: %q", got)
	}
	if !strings.Contains(string(got), "click &#34;here&#34;") {
		t.Fatalf("text not escaped: %q", got)
	}
}

func TestJoinHSkipsBlanks(t *testing.T) {
	t.Parallel()
	got := JoinH(" · ", "a", "", "  ", "b")
	if got != H("a · b") {
		t.Fatalf("JoinH = %q", got)
	}
	if JoinH(",") != H("") {
		t.Fatalf("empty join must be empty")
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	if got := TruncRunes("hello", 10); got != "hello" {
		t.Fatalf("short string changed: %q", got)
	}
	if got := TruncRunes("hello", 4); got != "hell…" {
		t.Fatalf("TruncRunes = %q", got)
	}
	// Multi-byte runes are not split.
	if got := TruncRunes("日本語です", 2); got != "日本…" {
		t.Fatalf("TruncRunes multibyte = %q", got)
	}
	if got := TruncRunes("x", 0); got != "" {
		t.Fatalf("zero budget = %q", got)
	}
}
