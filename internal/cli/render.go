// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jeranaias/apidesk/internal/credential"
	"github.com/jeranaias/apidesk/internal/model"
	"github.com/jeranaias/apidesk/internal/provider"
	"github.com/jeranaias/apidesk/internal/session"
	"github.com/jeranaias/apidesk/internal/util"
)

// =============================================================================
// MARKDOWN
// =============================================================================

var (
	markdownOnce     sync.Once
	markdownRenderer *glamour.TermRenderer
)

// renderMarkdown renders content for the terminal, returning it unchanged
// when the renderer is unavailable.
func renderMarkdown(content string) string {
	markdownOnce.Do(func() {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(min(GetTerminalWidth()-4, 100)),
		)
		if err == nil {
			markdownRenderer = r
		}
	})
	if markdownRenderer == nil {
		return content
	}
	out, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return out
}

// =============================================================================
// NUMBERS
// =============================================================================

// newPrinter returns a printer for the user's locale, taken from LC_ALL,
// LC_NUMERIC or LANG, defaulting to English.
func newPrinter() *message.Printer {
	tag := language.English
	for _, env := range []string{"LC_ALL", "LC_NUMERIC", "LANG"} {
		v := os.Getenv(env)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		v, _, _ = strings.Cut(v, ".")
		if t, err := language.Parse(strings.ReplaceAll(v, "_", "-")); err == nil {
			tag = t
			break
		}
	}
	return message.NewPrinter(tag)
}

// formatPrice picks decimals by magnitude so both BTC and small tokens read
// well.
func formatPrice(p *message.Printer, v float64) string {
	abs := v
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1:
		return p.Sprintf("%.2f", v)
	case abs >= 0.01:
		return p.Sprintf("%.4f", v)
	default:
		return p.Sprintf("%.8f", v)
	}
}

func formatChange(p *message.Printer, change, pct float64) string {
	sign := ""
	if change > 0 {
		sign = "+"
	}
	text := sign + formatPrice(p, change) + p.Sprintf(" (%s%.2f%%)", sign, pct)
	switch {
	case change > 0:
		return RenderConditional(SuccessStyle, text)
	case change < 0:
		return RenderConditional(ErrorStyle, text)
	}
	return text
}

// =============================================================================
// VIEWS
// =============================================================================

func renderStates(w io.Writer, snap session.Snapshot) {
	fmt.Fprintln(w, RenderConditional(SectionStyle.Copy().MarginTop(0), "Features"))
	for _, f := range snap.Features {
		state := string(f.State)
		style := StatusUnknownStyle
		switch f.State {
		case session.StateReady:
			style = StatusOKStyle
		case session.StatePending:
			style = StatusPendingStyle
		case session.StateError:
			style = StatusFailStyle
		}
		line := "  " + util.PadRight(string(f.Feature), 8) + " " + RenderConditional(style, util.PadRight(state, 16))
		switch {
		case len(f.Missing) > 0:
			line += DimStyle.Render("needs " + displayNames(f.Missing))
		case f.LastError != nil:
			line += DimStyle.Render(util.TruncateWidth(f.LastError.Message, GetTerminalWidth()-30))
		case f.Current != "":
			line += DimStyle.Render(f.Current)
		}
		fmt.Fprintln(w, line)
	}
}

func renderCredentials(w io.Writer, statuses []credential.Status) {
	fmt.Fprintln(w, RenderConditional(SectionStyle.Copy().MarginTop(0), "API keys"))
	for _, s := range statuses {
		status := RenderConditional(StatusUnknownStyle, "not set")
		if s.Configured {
			status = RenderConditional(StatusOKStyle, "set") + " " + DimStyle.Render(s.Fingerprint)
		}
		fmt.Fprintf(w, "  %s %s\n", util.PadRight(provider.DisplayName(s.Provider), 14), status)
	}
}

func renderImage(w io.Writer, img *model.ImageResult) {
	fmt.Fprintf(w, "%s %dx%d %s\n", RenderConditional(HighlightStyle, "Image"), img.Width, img.Height, DimStyle.Render(img.Model))
	fmt.Fprintln(w, "  "+img.URL)
}

func renderSearch(w io.Writer, res *model.SearchResult) {
	width := GetTerminalWidth() - 6
	if res.Len() == 0 {
		fmt.Fprintln(w, DimStyle.Render("No results for "+res.Query))
		return
	}
	for i, v := range res.Videos {
		dur := (time.Duration(v.Duration) * time.Second).String()
		fmt.Fprintf(w, "%2d. %s %s\n", i+1, util.PadRight(v.Author, 24), DimStyle.Render(dur))
		if f, ok := v.PreferredFile(); ok {
			fmt.Fprintf(w, "    %s\n", util.TruncateWidth(f.Link, width))
		}
	}
	for i, a := range res.Articles {
		fmt.Fprintf(w, "%2d. %s\n", i+1, RenderConditional(ValueStyle, util.TruncateWidth(a.Title, width)))
		meta := a.Source
		if !a.PublishedAt.IsZero() {
			meta += " · " + a.PublishedAt.Format("2006-01-02")
		}
		fmt.Fprintf(w, "    %s\n", DimStyle.Render(meta))
		if a.Description != "" {
			fmt.Fprintf(w, "    %s\n", util.TruncateWidth(a.Description, width))
		}
		fmt.Fprintf(w, "    %s\n", util.TruncateWidth(a.URL, width))
	}
}

func renderQuote(w io.Writer, p *message.Printer, q *model.QuoteSnapshot) {
	title := q.Symbol
	if q.Name != "" {
		title += "  " + q.Name
	}
	fmt.Fprintln(w, RenderConditional(TitleStyle.Copy().MarginBottom(0), title))
	if q.Exchange != "" || q.Industry != "" {
		fmt.Fprintln(w, DimStyle.Render(strings.Trim(q.Exchange+" · "+q.Industry, " ·")))
	}
	fmt.Fprintf(w, "  %s%s %s\n", RenderLabel("Price", 10), formatPrice(p, q.Price), q.Currency)
	fmt.Fprintf(w, "  %s%s\n", RenderLabel("Change", 10), formatChange(p, q.Change, q.ChangePercent))
	if q.High != 0 || q.Low != 0 {
		fmt.Fprintf(w, "  %s%s / %s\n", RenderLabel("High/Low", 10), formatPrice(p, q.High), formatPrice(p, q.Low))
	}
	if low, high, ok := q.HistoryRange(); ok {
		fmt.Fprintf(w, "  %s%s - %s %s\n", RenderLabel("Range", 10), formatPrice(p, low), formatPrice(p, high),
			DimStyle.Render(p.Sprintf("(%d days)", len(q.History))))
	}
}

func renderError(w io.Writer, err error) {
	ev := session.NewErrorView(err)
	msg := ev.Message
	shown := ""
	switch pe, ok := provider.AsError(err); {
	case ev.Kind == session.KindMissingCredential:
		msg += ". Use /key <provider> to enter it."
	case provider.IsTimeout(err):
		msg += ". Try again, or raise session.request_timeout_secs."
	case ok && pe.Kind == provider.KindHTTPStatus && (pe.Message != "" || pe.RawBody != ""):
		shown = pe.Detail()
		msg = fmt.Sprintf("%s: HTTP %d: %s", provider.DisplayName(pe.Provider), pe.Status, util.TruncateWidth(shown, GetTerminalWidth()-8))
	}
	fmt.Fprintf(w, "%s %s\n", RenderConditional(ErrorStyle, "[Error]"), msg)
	if ev.RawBody != "" && ev.RawBody != shown {
		fmt.Fprintln(w, DimStyle.Render("  "+util.TruncateWidth(ev.RawBody, GetTerminalWidth()-4)))
	}
}

func displayNames(ids []string) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = provider.DisplayName(id)
	}
	return strings.Join(names, ", ")
}
