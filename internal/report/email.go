package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"observatory-ops/internal/alerts"
	"observatory-ops/internal/notify"
)

// Email sends a plain-text night summary through a notify channel, usually
// the email channel. The rendered PDF/XLSX stay available for download on
// the API; the mail carries the numbers themselves.
func Email(ctx context.Context, channel notify.Channel, recipients []string, night NightReport) error {
	if channel == nil {
		return errors.New("report email: nil channel")
	}
	if len(recipients) == 0 {
		return errors.New("report email: no recipients")
	}
	m := night.Metrics
	var body strings.Builder
	fmt.Fprintf(&body, "Night report for SJD %d\n\n", m.SJD)
	fmt.Fprintf(&body, "Twilight end:    %s\n", m.TwilightEnd.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&body, "Twilight start:  %s\n", m.TwilightStart.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&body, "Night length:    %.0f s\n", m.NightLength)
	fmt.Fprintf(&body, "Night started:   %t\n", m.NightStarted)
	fmt.Fprintf(&body, "Night ended:     %t\n\n", m.NightEnded)
	fmt.Fprintf(&body, "Object exposures:      %s\n", formatOptionalInt(m.NObjectExposures))
	fmt.Fprintf(&body, "Total exposure time:   %s\n", formatOptional(m.TotalExposureTime, " s"))
	fmt.Fprintf(&body, "Time lost:             %s\n", formatOptional(m.TimeLost, " s"))
	fmt.Fprintf(&body, "Efficiency nominal:    %s\n", formatOptional(m.EfficiencyNominal, "%"))
	fmt.Fprintf(&body, "Efficiency readout:    %s\n", formatOptional(m.EfficiencyReadout, "%"))
	fmt.Fprintf(&body, "Efficiency no readout: %s\n", formatOptional(m.EfficiencyNoReadout, "%"))

	return channel.Send(ctx, notify.Payload{
		Channel:    channel.Name(),
		Recipients: recipients,
		Subject:    fmt.Sprintf("Night report SJD %d", m.SJD),
		Body:       body.String(),
		Level:      alerts.SeverityInfo,
		AlertName:  "night_report",
	})
}
