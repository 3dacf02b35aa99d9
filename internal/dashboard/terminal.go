// Package dashboard renders the console's live view: wallet session,
// engine telemetry, backend health, and a rolling activity log.
package dashboard

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dexsniper/snipectl/internal/autotrade"
	"github.com/dexsniper/snipectl/internal/health"
	"github.com/dexsniper/snipectl/internal/wallet"
)

const (
	// ANSI escape codes
	ClearScreen = "\033[2J"
	MoveCursor  = "\033[%d;%dH" // row, col
	HideCursor  = "\033[?25l"
	ShowCursor  = "\033[?25h"

	Reset = "\033[0m"
	Bold  = "\033[1m"
	Dim   = "\033[2m"

	FgRed     = "\033[31m"
	FgGreen   = "\033[32m"
	FgYellow  = "\033[33m"
	FgMagenta = "\033[35m"
	FgCyan    = "\033[36m"
	FgWhite   = "\033[37m"

	// Box drawing
	TopLeft     = "╔"
	TopRight    = "╗"
	BottomLeft  = "╚"
	BottomRight = "╝"
	Horizontal  = "═"
	Vertical    = "║"
)

const (
	TermWidth  = 110
	TermHeight = 32

	LeftPanelWidth  = 54
	RightPanelWidth = 56

	maxLogLines = 10
)

// Dashboard draws the terminal UI. The frame is drawn once; only panel
// contents are repainted.
type Dashboard struct {
	mu sync.RWMutex

	startTime time.Time
	running   bool

	session wallet.Snapshot
	engine  autotrade.Projection
	backend health.Snapshot
	logs    []string

	stopCh   chan struct{}
	updateCh chan struct{}
}

// New creates the dashboard. Nothing is drawn until Start.
func New() *Dashboard {
	return &Dashboard{
		startTime: time.Now(),
		logs:      make([]string, 0, maxLogLines),
		stopCh:    make(chan struct{}),
		updateCh:  make(chan struct{}, 64),
	}
}

// Start clears the screen, draws the frame, and begins repainting.
func (d *Dashboard) Start() {
	d.mu.Lock()
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	fmt.Print(HideCursor)
	fmt.Print(ClearScreen)
	d.drawFrame()

	go d.updateLoop()
}

// Stop halts repainting and restores the cursor.
func (d *Dashboard) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)
	fmt.Print(ShowCursor)
	fmt.Printf(MoveCursor, TermHeight+1, 1)
}

// SetSession replaces the wallet panel contents.
func (d *Dashboard) SetSession(s wallet.Snapshot) {
	d.mu.Lock()
	d.session = s
	d.mu.Unlock()
	d.requestUpdate()
}

// SetEngine replaces the engine panel contents.
func (d *Dashboard) SetEngine(p autotrade.Projection) {
	d.mu.Lock()
	d.engine = p
	d.mu.Unlock()
	d.requestUpdate()
}

// SetBackend replaces the health panel contents.
func (d *Dashboard) SetBackend(s health.Snapshot) {
	d.mu.Lock()
	d.backend = s
	d.mu.Unlock()
	d.requestUpdate()
}

// Log appends a line to the activity panel.
func (d *Dashboard) Log(format string, args ...any) {
	line := fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	d.mu.Lock()
	d.logs = append(d.logs, line)
	if len(d.logs) > maxLogLines {
		d.logs = d.logs[len(d.logs)-maxLogLines:]
	}
	d.mu.Unlock()
	d.requestUpdate()
}

func (d *Dashboard) requestUpdate() {
	select {
	case d.updateCh <- struct{}{}:
	default:
	}
}

func (d *Dashboard) updateLoop() {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.updateContent()
		case <-d.updateCh:
			d.updateContent()
		}
	}
}

func (d *Dashboard) drawFrame() {
	fmt.Print(ClearScreen)

	d.drawBox(1, 1, TermWidth, 3)

	d.drawBox(1, 4, LeftPanelWidth, 11)
	d.writeAt(3, 4, FgCyan+Bold+" 👛 WALLET SESSION"+Reset)

	d.drawBox(LeftPanelWidth, 4, RightPanelWidth+2, 11)
	d.writeAt(LeftPanelWidth+2, 4, FgGreen+Bold+" ⚙️ AUTOTRADE ENGINE"+Reset)

	d.drawBox(1, 15, LeftPanelWidth, 8)
	d.writeAt(3, 15, FgMagenta+Bold+" 🩺 BACKEND HEALTH"+Reset)

	d.drawBox(LeftPanelWidth, 15, RightPanelWidth+2, 15)
	d.writeAt(LeftPanelWidth+2, 15, FgYellow+Bold+" 📋 ACTIVITY"+Reset)
	d.writeAt(LeftPanelWidth+2, 16, strings.Repeat("─", 54))

	d.writeAt(2, TermHeight-1, FgWhite+Dim+"Press Ctrl+C to exit │ DEX Sniper Pro console"+Reset)
}

func (d *Dashboard) drawBox(x, y, width, height int) {
	d.writeAt(x, y, FgCyan+TopLeft+strings.Repeat(Horizontal, width-2)+TopRight+Reset)
	for row := y + 1; row < y+height-1; row++ {
		d.writeAt(x, row, FgCyan+Vertical+Reset)
		d.writeAt(x+width-1, row, FgCyan+Vertical+Reset)
	}
	d.writeAt(x, y+height-1, FgCyan+BottomLeft+strings.Repeat(Horizontal, width-2)+BottomRight+Reset)
}

func (d *Dashboard) writeAt(x, y int, text string) {
	fmt.Printf(MoveCursor, y, x)
	fmt.Print(text)
}

func (d *Dashboard) updateContent() {
	d.mu.RLock()
	defer d.mu.RUnlock()

	d.updateHeader()
	d.updateSessionPanel()
	d.updateEnginePanel()
	d.updateHealthPanel()
	d.updateActivityPanel()
}

func (d *Dashboard) updateHeader() {
	uptime := time.Since(d.startTime).Round(time.Second)

	backendState := FgRed + "● DOWN" + Reset
	if d.backend.Healthy {
		backendState = FgGreen + "● LIVE" + Reset
	}

	engineState := FgYellow + "idle" + Reset
	if d.engine.Engine.Running {
		engineState = FgGreen + d.engine.Engine.Mode + Reset
	} else if d.engine.Engine.Mode == "disabled" {
		engineState = FgRed + "disabled" + Reset
	}

	header := fmt.Sprintf(" 🎯 SNIPECTL  %s│%s  ⏱️ %s  %s│%s  backend %s  %s│%s  engine %s ",
		FgCyan, Reset,
		uptime,
		FgCyan, Reset,
		backendState,
		FgCyan, Reset,
		engineState)

	d.writeAt(3, 2, header+strings.Repeat(" ", 20))
}

func (d *Dashboard) updateSessionPanel() {
	row := 6
	pad := func(s string) string {
		return s + strings.Repeat(" ", padWidth(LeftPanelWidth-4, s))
	}

	if !d.session.Connected {
		d.writeAt(3, row, pad(FgWhite+Dim+"No wallet connected"+Reset))
		for r := row + 1; r <= 13; r++ {
			d.writeAt(3, r, pad(""))
		}
		return
	}

	d.writeAt(3, row, pad(fmt.Sprintf("Wallet   %s", d.session.WalletKind)))
	d.writeAt(3, row+1, pad(fmt.Sprintf("Chain    %s", d.session.Chain)))
	d.writeAt(3, row+2, pad(fmt.Sprintf("Address  %s", shortAddress(d.session.Address))))

	line := row + 3
	for symbol, bal := range d.session.Balances {
		if line > 12 {
			break
		}
		d.writeAt(3, line, pad(fmt.Sprintf("%-6s   %s", symbol, bal.StringFixed(4))))
		line++
	}
	if d.session.LastError != nil {
		d.writeAt(3, 13, pad(FgRed+d.session.LastError.UserMessage+Reset))
	} else {
		d.writeAt(3, 13, pad(""))
	}
}

func (d *Dashboard) updateEnginePanel() {
	x := LeftPanelWidth + 2
	row := 6
	pad := func(s string) string {
		return s + strings.Repeat(" ", padWidth(RightPanelWidth-4, s))
	}

	state := FgYellow + "STOPPED" + Reset
	if d.engine.Engine.Running {
		state = FgGreen + "RUNNING" + Reset
	}
	if !d.engine.EmergencyStopLatchedAt.IsZero() {
		state = FgRed + "EMERGENCY STOP" + Reset
	}

	profitColor := FgGreen
	sign := "+"
	if d.engine.Metrics.TotalProfitUSD.LessThan(decimal.Zero) {
		profitColor = FgRed
		sign = ""
	}

	d.writeAt(x, row, pad(fmt.Sprintf("State    %s   mode %s", state, d.engine.Engine.Mode)))
	d.writeAt(x, row+1, pad(fmt.Sprintf("Queue    %d   active trades %d",
		d.engine.Engine.QueueSize, d.engine.Engine.ActiveTrades)))
	d.writeAt(x, row+2, pad(fmt.Sprintf("Opps     %d found / %d executed  (%.0f%%)",
		d.engine.Metrics.OpportunitiesFound,
		d.engine.Metrics.OpportunitiesExecuted,
		d.engine.Metrics.SuccessRate*100)))
	d.writeAt(x, row+3, pad(fmt.Sprintf("Profit   %s%s$%s%s",
		profitColor+Bold, sign, d.engine.Metrics.TotalProfitUSD.StringFixed(2), Reset)))
	d.writeAt(x, row+4, pad(fmt.Sprintf("Errors   %.1f%%", d.engine.Metrics.ErrorRate*100)))

	if d.engine.LastAlert != nil {
		d.writeAt(x, row+5, pad(FgRed+fmt.Sprintf("⚠ %s: %s",
			d.engine.LastAlert.Severity, d.engine.LastAlert.Message)+Reset))
	} else if d.engine.ServerError != "" {
		d.writeAt(x, row+5, pad(FgYellow+d.engine.ServerError+Reset))
	} else {
		d.writeAt(x, row+5, pad(""))
	}

	if d.engine.TransportError != nil {
		d.writeAt(x, row+6, pad(FgRed+"stream: "+d.engine.TransportError.UserMessage+Reset))
	} else {
		d.writeAt(x, row+6, pad(""))
	}
}

func (d *Dashboard) updateHealthPanel() {
	row := 17
	pad := func(s string) string {
		return s + strings.Repeat(" ", padWidth(LeftPanelWidth-4, s))
	}

	overall := FgRed + "UNREACHABLE" + Reset
	if d.backend.Healthy {
		overall = FgGreen + d.backend.Status + Reset
	} else if d.backend.Status != "" && d.backend.LastError == nil {
		overall = FgYellow + d.backend.Status + Reset
	}
	d.writeAt(3, row, pad(fmt.Sprintf("Overall  %s", overall)))

	line := row + 1
	for name, up := range d.backend.Subsystems {
		if line > 21 {
			break
		}
		mark := FgRed + "✗" + Reset
		if up {
			mark = FgGreen + "✓" + Reset
		}
		d.writeAt(3, line, pad(fmt.Sprintf("%s %s", mark, name)))
		line++
	}
	for ; line <= 21; line++ {
		d.writeAt(3, line, pad(""))
	}
}

func (d *Dashboard) updateActivityPanel() {
	x := LeftPanelWidth + 2
	row := 17
	pad := func(s string) string {
		return s + strings.Repeat(" ", padWidth(RightPanelWidth-4, s))
	}

	for i := 0; i < maxLogLines; i++ {
		line := ""
		if i < len(d.logs) {
			line = d.logs[i]
		}
		line = truncRunes(line, RightPanelWidth-4)
		d.writeAt(x, row+i, pad(Dim+line+Reset))
	}
}

func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

// padWidth returns how many spaces bring s up to width, never negative.
// Escape sequences carry no width.
func padWidth(width int, s string) int {
	n := width - len([]rune(stripANSI(s)))
	if n < 0 {
		return 0
	}
	return n
}

// stripANSI drops escape sequences so width math sees only glyphs.
func stripANSI(s string) string {
	var b strings.Builder
	inEsc := false
	for _, r := range s {
		switch {
		case inEsc:
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEsc = false
			}
		case r == '\033':
			inEsc = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// truncRunes cuts s to at most n runes without tearing a multi-byte one.
func truncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
