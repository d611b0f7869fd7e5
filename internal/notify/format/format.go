// Package format renders dispatch notifications as Telegram HTML.
//
// Rendering is pure: every function maps read-model values to a message
// body, with all free-form text escaped. Policy about WHETHER to notify
// lives in the dispatcher; this package only decides how a decided
// notification reads.
package format

import (
	"strconv"
	"strings"

	"signaldispatch/internal/signal"
	"signaldispatch/pkg/tgfmt"
)

const summaryMaxRunes = 400

// A not-traded message always carries a reason line. When the read model
// recorded none, these stand in.
const (
	defaultSkipReason = "agent decided not to trade"
	defaultExecError  = "trade execution failed"
)

// Options carries rendering knobs shared by all message kinds.
type Options struct {
	// DashboardBaseURL, when set, appends a deep link to the signal page,
	// e.g. https://app.example.com/signals/<id>.
	DashboardBaseURL string
}

// QuotaEvent is the payload of an out-of-band quota notification, carried
// as the job's context blob.
type QuotaEvent struct {
	AgentName string `json:"agent_name"`
	Limit     int    `json:"limit"`
	Window    string `json:"window"` // human-readable, e.g. "24h"
}

// Executed renders the trade-executed notification with the realized
// position.
func (o Options) Executed(sig signal.Signal, dep signal.Deployment, pos signal.Position) string {
	lines := []tgfmt.H{
		tgfmt.JoinH(" ", tgfmt.Raw("✅"), tgfmt.B("Trade executed")),
		headline(sig, dep),
		tgfmt.JoinH(" · ",
			kv("Entry", num(pos.EntryPrice)),
			kv("Qty", num(pos.Quantity)),
		),
	}
	if pos.StopLoss > 0 || pos.TakeProfit > 0 {
		lines = append(lines, tgfmt.JoinH(" · ",
			optKV("SL", pos.StopLoss),
			optKV("TP", pos.TakeProfit),
		))
	}
	if l := allocation(sig); l != "" {
		lines = append(lines, l)
	}
	lines = append(lines, summary(sig), o.link(sig.ID))
	return joinLines(lines)
}

// Skipped renders the not-traded notification for a signal the analysis
// decided against.
func (o Options) Skipped(sig signal.Signal, dep signal.Deployment) string {
	lines := []tgfmt.H{
		tgfmt.JoinH(" ", tgfmt.Raw("⏭"), tgfmt.B("Signal skipped")),
		headline(sig, dep),
	}
	r := strings.TrimSpace(sig.SkipReason)
	if r == "" {
		r = defaultSkipReason
	}
	lines = append(lines, tgfmt.Quote(tgfmt.TruncRunes(r, summaryMaxRunes)))
	lines = append(lines, summary(sig), o.link(sig.ID))
	return joinLines(lines)
}

// ExecFailed renders the not-traded notification for a trade that was
// attempted and failed. It keeps the intended allocation visible so the
// user can judge what the failure cost them.
func (o Options) ExecFailed(sig signal.Signal, dep signal.Deployment) string {
	lines := []tgfmt.H{
		tgfmt.JoinH(" ", tgfmt.Raw("⚠️"), tgfmt.B("Trade failed")),
		headline(sig, dep),
	}
	e := strings.TrimSpace(sig.ExecError)
	if e == "" {
		e = defaultExecError
	}
	lines = append(lines, tgfmt.Code(tgfmt.TruncRunes(e, summaryMaxRunes)))
	if l := allocation(sig); l != "" {
		lines = append(lines, l)
	}
	lines = append(lines, summary(sig), o.link(sig.ID))
	return joinLines(lines)
}

// QuotaExceeded renders the out-of-band quota notification.
func (o Options) QuotaExceeded(ev QuotaEvent) string {
	head := tgfmt.JoinH(" ", tgfmt.Raw("\U0001f6a6"), tgfmt.B("Signal quota reached"))
	var body tgfmt.H
	switch {
	case ev.AgentName != "" && ev.Limit > 0 && ev.Window != "":
		body = tgfmt.JoinH(" ", tgfmt.B(ev.AgentName),
			tgfmt.Esc("hit its limit of "+strconv.Itoa(ev.Limit)+" signals per "+ev.Window+"."))
	case ev.AgentName != "":
		body = tgfmt.JoinH(" ", tgfmt.B(ev.AgentName), tgfmt.Esc("hit its signal quota."))
	default:
		body = tgfmt.Esc("An agent hit its signal quota.")
	}
	tail := tgfmt.I("New signals are dropped until the window rolls over.")
	return joinLines([]tgfmt.H{head, body, tail})
}

func headline(sig signal.Signal, dep signal.Deployment) tgfmt.H {
	side := strings.ToUpper(string(sig.Side))
	parts := []tgfmt.H{tgfmt.B(dep.AgentName)}
	market := strings.TrimSpace(side + " " + sig.Symbol)
	if sig.Venue != "" {
		market += " on " + sig.Venue
	}
	if market != "" {
		parts = append(parts, tgfmt.Esc(market))
	}
	return tgfmt.JoinH(" · ", parts...)
}

func allocation(sig signal.Signal) tgfmt.H {
	var parts []tgfmt.H
	if sig.AllocationPct > 0 {
		parts = append(parts, kv("Allocation", num(sig.AllocationPct)+"%"))
	}
	if sig.Leverage > 0 {
		parts = append(parts, kv("Leverage", num(sig.Leverage)+"x"))
	}
	return tgfmt.JoinH(" · ", parts...)
}

func summary(sig signal.Signal) tgfmt.H {
	s := strings.TrimSpace(sig.Summary)
	if s == "" {
		return ""
	}
	return tgfmt.I(tgfmt.TruncRunes(s, summaryMaxRunes))
}

func (o Options) link(signalID string) tgfmt.H {
	base := strings.TrimRight(strings.TrimSpace(o.DashboardBaseURL), "/")
	if base == "" || signalID == "" {
		return ""
	}
	return tgfmt.Link("View signal", base+"/signals/"+signalID)
}

func kv(k, v string) tgfmt.H {
	if v == "" {
		return ""
	}
	return tgfmt.Esc(k + " " + v)
}

func optKV(k string, v float64) tgfmt.H {
	if v <= 0 {
		return ""
	}
	return kv(k, num(v))
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func joinLines(lines []tgfmt.H) string {
	return tgfmt.JoinH("\n", lines...).String()
}
