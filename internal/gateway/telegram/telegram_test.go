package telegram

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"signaldispatch/internal/dispatch"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	blocked := &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}
	if err := classify(blocked); !dispatch.IsNoRetry(err) {
		t.Fatalf("403 must be permanent, got %v", err)
	}
	badReq := &tele.Error{Code: 400, Description: "Bad Request: can't parse entities"}
	if err := classify(fmt.Errorf("send: %w", badReq)); !dispatch.IsNoRetry(err) {
		t.Fatalf("wrapped 400 must be permanent, got %v", err)
	}

	flood := tele.FloodError{
		Error:      &tele.Error{Code: 429, Description: "Too Many Requests"},
		RetryAfter: 17,
	}
	err := classify(flood)
	if dispatch.IsNoRetry(err) {
		t.Fatalf("flood control must stay transient")
	}
	if hint, ok := dispatch.RetryAfterHint(err); !ok || hint != 17*time.Second {
		t.Fatalf("flood hint = %v, %v", hint, ok)
	}

	server := &tele.Error{Code: 502, Description: "Bad Gateway"}
	if err := classify(server); dispatch.IsNoRetry(err) {
		t.Fatalf("5xx must stay transient")
	}
	network := errors.New("dial tcp: i/o timeout")
	if err := classify(network); dispatch.IsNoRetry(err) || !errors.Is(err, network) {
		t.Fatalf("plain errors must pass through, got %v", err)
	}
}

func TestTruncateHTML(t *testing.T) {
	t.Parallel()

	short := "<b>fine</b>"
	if got := truncateHTML(short, 20); got != short {
		t.Fatalf("short body altered: %q", got)
	}

	// The cut never splits a multi-byte rune.
	runes := strings.Repeat("日", 50)
	got := truncateHTML(runes, 10)
	if !utf8.ValidString(got) {
		t.Fatalf("invalid UTF-8 after cut: %q", got)
	}
	if n := utf8.RuneCountInString(got); n > 10 {
		t.Fatalf("got %d runes, want <= 10", n)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("missing truncation marker: %q", got)
	}

	// A cut landing inside a tag backs off to before the tag.
	tagged := strings.Repeat("x", 6) + `<a href="https://example.com">link</a>`
	got = truncateHTML(tagged, 15)
	if strings.Contains(got, "<a") {
		t.Fatalf("dangling open tag survived: %q", got)
	}

	// Same for a half-written entity.
	entity := strings.Repeat("x", 8) + "&amp;tail"
	got = truncateHTML(entity, 11)
	if strings.Contains(got, "&") {
		t.Fatalf("dangling entity survived: %q", got)
	}
}
