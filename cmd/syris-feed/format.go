package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/domody/syris/pkg/ids"
	"github.com/domody/syris/protocol"
	"github.com/domody/syris/requests"
)

const timeLayout = "15:04:05.000"

// formatEvent renders one event as a terminal line:
// time, level, kind, short request id, summary.
func formatEvent(ev protocol.TransportEvent) string {
	ts := "--:--:--.---"
	if ev.TsMs > 0 {
		ts = time.UnixMilli(ev.TsMs).Format(timeLayout)
	}
	links := protocol.EventLinks(ev)
	return fmt.Sprintf("%s %-5s %-20s %-14s %s",
		ts,
		strings.ToUpper(string(ev.Level)),
		ev.Kind,
		ids.ShortRequest(links.RequestID),
		protocol.Summarize(ev),
	)
}

// formatDropped renders a server gap notice.
func formatDropped(d protocol.Dropped) string {
	line := fmt.Sprintf("! server dropped %d events (%s)", d.Count, d.Reason)
	if d.Stream != "" {
		line += " on " + d.Stream
	}
	return line
}

// formatRequest renders a tracked request's outcome.
func formatRequest(r requests.Request) string {
	line := fmt.Sprintf("%s %s", ids.ShortRequest(r.RequestID), r.Status)
	if r.Error != "" {
		line += ": " + r.Error
	}
	return line
}
