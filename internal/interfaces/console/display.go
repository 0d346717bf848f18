package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
)

func colorize(s, c string) string { return c + s + ansiReset }

// Formatter 机会表格渲染
type Formatter struct {
	Color bool
	Now   func() time.Time
}

func NewFormatter(color bool) *Formatter {
	return &Formatter{Color: color, Now: time.Now}
}

func (f *Formatter) paint(s, c string) string {
	if !f.Color {
		return s
	}
	return colorize(s, c)
}

// Render one ranked batch, best first.
func (f *Formatter) Render(batch []model.Opportunity) string {
	var sb strings.Builder
	now := f.Now().UTC()

	sb.WriteString(f.paint("[FUNDARB] ", ansiDim))
	sb.WriteString(now.Format("2006-01-02 15:04:05"))
	sb.WriteString(fmt.Sprintf("  %d opportunities\n", len(batch)))

	sb.WriteString(f.paint(fmt.Sprintf("%-3s %-10s %10s %9s %8s %6s %-7s %-22s %s\n",
		"#", "SYMBOL", "FUNDING", "ANNUAL%", "BASIS", "RISK", "CONF", "ACTION", "NEXT"), ansiBold))

	for i, o := range batch {
		rateCol := ansiGreen
		if o.FundingRate < 0 {
			rateCol = ansiRed
		}
		sb.WriteString(fmt.Sprintf("%-3d %-10s ", i+1, o.Symbol))
		sb.WriteString(f.paint(fmt.Sprintf("%10.6f", o.FundingRate), rateCol))
		sb.WriteString(fmt.Sprintf(" %9.2f %8.2f ", o.AnnualFundingRatePct, o.BasisBps))
		sb.WriteString(f.paint(fmt.Sprintf("%6.1f", o.RiskScore), riskColor(o.RiskScore)))
		sb.WriteString(" ")
		sb.WriteString(f.paint(fmt.Sprintf("%-7s", o.Confidence), confidenceColor(o.Confidence)))
		sb.WriteString(fmt.Sprintf(" %-22s %s\n", o.Action, untilFunding(o.NextFundingTime, now)))
	}
	return sb.String()
}

func riskColor(score float64) string {
	switch {
	case score < 3:
		return ansiGreen
	case score < 6:
		return ansiYellow
	default:
		return ansiRed
	}
}

func confidenceColor(c model.Confidence) string {
	switch c {
	case model.ConfidenceHigh:
		return ansiGreen
	case model.ConfidenceMedium:
		return ansiYellow
	default:
		return ansiDim
	}
}

// untilFunding 距离下次结算（例: 3h25m）
func untilFunding(next, now time.Time) string {
	if next.IsZero() {
		return "--"
	}
	d := next.Sub(now)
	if d <= 0 {
		return "due"
	}
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}

// Display 控制台输出，实现 port.Display
type Display struct {
	mu        sync.Mutex
	out       io.Writer
	formatter *Formatter
}

func NewDisplay(out io.Writer, color bool) *Display {
	if out == nil {
		out = os.Stdout
	}
	return &Display{out: out, formatter: NewFormatter(color)}
}

func (d *Display) ShowOpportunities(batch []model.Opportunity) {
	if len(batch) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprint(d.out, "\n"+d.formatter.Render(batch))
}

var _ port.Display = (*Display)(nil)
