// Package telegram delivers rendered notifications over the Telegram Bot
// API. It is send-only: no poller, no update handlers.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"signaldispatch/internal/dispatch"
	logx "signaldispatch/pkg/logx"
)

// Telegram rejects messages beyond 4096 characters. Notifications are short;
// anything longer is truncated rather than chunked.
const textLimit = 4096

type Config struct {
	Token      string
	RatePerSec int
}

// Gateway implements dispatch.Gateway on top of a telebot send-only client.
// It rate-limits outgoing sends globally and translates Telegram API errors
// into the dispatcher's transient/permanent vocabulary.
type Gateway struct {
	mu      sync.Mutex
	bot     *tele.Bot
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Gateway, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Gateway{bot: b, log: log}
	g.Apply(cfg)
	return g, nil
}

// Apply updates the send rate at runtime. The token is fixed for the process
// lifetime; changing it requires a restart.
func (g *Gateway) Apply(cfg Config) {
	per := cfg.RatePerSec
	if per <= 0 {
		per = 3
	}
	g.mu.Lock()
	g.limiter = rate.NewLimiter(rate.Limit(per), per)
	g.mu.Unlock()
}

// Send delivers one HTML-formatted message and returns the Telegram message
// id. Errors come back classified: flood control as RetryAfter with the
// API's own delay, other 4xx rejections as NoRetry, everything else raw
// (and therefore transient).
func (g *Gateway) Send(ctx context.Context, chatID int64, body string) (string, error) {
	g.mu.Lock()
	lim := g.limiter
	g.mu.Unlock()
	if err := lim.Wait(ctx); err != nil {
		return "", err
	}

	body = truncateHTML(body, textLimit)

	msg, err := g.bot.Send(&tele.Chat{ID: chatID}, body, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return "", classify(err)
	}
	return strconv.Itoa(msg.ID), nil
}

// classify maps Telegram API failures onto the dispatcher's retry markers.
func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return dispatch.RetryAfter(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	var api *tele.Error
	if errors.As(err, &api) {
		// 4xx short of flood control means the request itself is bad:
		// blocked bot, deleted chat, broken markup. Retrying cannot help.
		if api.Code >= 400 && api.Code < 500 && api.Code != 429 {
			return dispatch.NoRetry(err)
		}
	}
	return err
}

// truncateHTML caps body to limit runes. The cut lands on a rune boundary
// and backs off past any half-written tag or entity, since the API rejects
// broken markup outright and a rejection here turns into a permanent
// delivery failure.
func truncateHTML(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	cut := len(s)
	seen := 0
	for i := range s {
		if seen == limit-1 {
			cut = i
			break
		}
		seen++
	}
	s = s[:cut]
	if i := strings.LastIndexByte(s, '<'); i > strings.LastIndexByte(s, '>') {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '&'); i > strings.LastIndexByte(s, ';') {
		s = s[:i]
	}
	return s + "…"
}
