package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"fencewatch/internal/alert"
	"fencewatch/internal/engine"
	logx "fencewatch/pkg/logx"
)

func renderPopup(e alert.Event, now time.Time) string {
	r := e.Kind.Render()
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ <b>%s</b>\n%s", html.EscapeString(r.Title), html.EscapeString(r.Body))
	if e.DeviceID != "" {
		fmt.Fprintf(&b, "\nTracker: <code>%s</code>", html.EscapeString(e.DeviceID))
	}
	if !e.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "\n%s", alert.RelativeAge(e.CreatedAt, now))
	}
	return b.String()
}

const listLimit = 10

// renderList builds the alerts view from the local journal. Without a
// journal the view still opens so click-through keeps working.
func (s *Surface) renderList(ctx context.Context, now time.Time) string {
	var b strings.Builder
	b.WriteString("<b>Recent alerts</b>\n")
	if s.store == nil {
		b.WriteString("\nNo alert journal configured.")
		return b.String()
	}
	entries, err := s.store.RecentHistory(ctx, listLimit)
	if err != nil {
		s.log.Warn("journal read failed", logx.Err(err))
		b.WriteString("\nAlert journal unavailable.")
		return b.String()
	}
	if len(entries) == 0 {
		b.WriteString("\nNo alerts recorded yet.")
		return b.String()
	}
	for _, e := range entries {
		if e.Action != "shown" {
			continue
		}
		title := alert.Kind(e.Kind).Render().Title
		fmt.Fprintf(&b, "\n• %s", html.EscapeString(title))
		if e.DeviceID != "" {
			fmt.Fprintf(&b, " <code>%s</code>", html.EscapeString(e.DeviceID))
		}
		fmt.Fprintf(&b, " (%s)", alert.RelativeAge(e.At, now))
	}
	return b.String()
}

func renderStatus(st engine.Status, uptime time.Duration) string {
	var b strings.Builder
	b.WriteString("<b>fencewatch</b>\n")
	if st.Running {
		b.WriteString("Engine: running")
	} else {
		b.WriteString("Engine: stopped")
	}
	if st.Showing {
		fmt.Fprintf(&b, "\nShowing: <code>%s</code>", html.EscapeString(st.CurrentID))
	}
	fmt.Fprintf(&b, "\nQueued: %d", st.QueueLen)
	fmt.Fprintf(&b, "\nShown %d, dismissed %d, suppressed %d", st.Shown, st.Dismissed, st.Suppressed)
	fmt.Fprintf(&b, "\nUptime: %s", uptime.Round(time.Second))
	return b.String()
}
