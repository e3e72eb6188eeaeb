// pool-monitor is a terminal dashboard for the pool: live status on
// the left, a log pane on the right, manual control on the keyboard.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/pflag"

	"github.com/smash0190/endlesspool/internal/pool"
	"github.com/smash0190/endlesspool/internal/protocol"
)

const paceStep = 5 // seconds per 100m per keypress

func main() {
	poolAddr := pflag.String("pool-addr", "", "pool device address (host:port)")
	clientPort := pflag.Int("client-port", protocol.DefaultClientPort, "local port broadcasts arrive on")
	useSim := pflag.Bool("sim", false, "run against a built-in simulated pool")
	pflag.Parse()

	app := tview.NewApplication()

	logView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() {
			app.Draw()
		})
	logView.SetBorder(true).SetTitle(" Logs ")

	logMessage := func(format string, args ...interface{}) {
		message := fmt.Sprintf("[%s] %s\n", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
		fmt.Fprint(logView, message)
	}
	logger := log.New(tview.ANSIWriter(logView), "", log.Ltime)

	var sim *pool.Simulator
	addr := *poolAddr
	if *useSim {
		var err error
		sim, err = pool.NewSimulator(protocol.DefaultPoolPort, fmt.Sprintf("127.0.0.1:%d", *clientPort), 0, logger)
		must("start simulator", err)
		sim.Start()
		addr = sim.Addr()
	} else if addr == "" {
		fmt.Fprintln(os.Stderr, "pool-monitor: --pool-addr is required (or use --sim)")
		os.Exit(2)
	}

	link, err := pool.NewLink(pool.LinkConfig{
		PoolAddr:   addr,
		ListenPort: *clientPort,
	}, logger)
	must("open device link", err)
	link.Start()

	statusView := tview.NewTextView().SetDynamicColors(true)
	statusView.SetBorder(true).SetTitle(" Pool Status ")

	// Target pace tracked locally so +/- work before the first
	// broadcast arrives.
	pace := 120

	send := func(op pool.CommandOp, value int) {
		cmd, err := pool.NewCommand(op, value)
		if err != nil {
			logMessage("Invalid command: %v", err)
			return
		}
		if err := link.SendCommand(cmd); err != nil {
			logMessage("Send failed: %v", err)
			return
		}
		logMessage("Sent %s", cmd)
	}

	// Redraw the status pane on every broadcast.
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			status, ok := link.Latest()
			app.QueueUpdateDraw(func() {
				statusView.SetText(renderStatus(status, ok, pace))
			})
		}
	}()

	flex := tview.NewFlex().
		AddItem(statusView, 0, 1, true). // Left half, focusable
		AddItem(logView, 0, 1, false)    // Right half

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyTab {
			if statusView.HasFocus() {
				app.SetFocus(logView)
			} else {
				app.SetFocus(statusView)
			}
			return nil
		}
		if event.Key() == tcell.KeyEscape {
			app.Stop()
			return nil
		}
		switch event.Rune() {
		case 's':
			send(pool.CmdSpeed, pace)
			send(pool.CmdStart, 0)
		case 'x':
			send(pool.CmdStop, 0)
		case '+', '=':
			pace = protocol.ClampPace(pace - paceStep) // lower pace value = faster
			send(pool.CmdSpeed, pace)
		case '-':
			pace = protocol.ClampPace(pace + paceStep)
			send(pool.CmdSpeed, pace)
		case 't':
			send(pool.CmdTimer, 600)
		}
		return event
	})

	logMessage("Connected to pool at %s", addr)
	logMessage("Keys: s=start x=stop +/-=pace t=10min timer Esc=quit")

	if err := app.SetRoot(flex, true).SetFocus(statusView).Run(); err != nil {
		panic(err)
	}

	link.Shutdown()
	if sim != nil {
		sim.Shutdown()
	}
}

func renderStatus(status pool.DerivedStatus, ok bool, localPace int) string {
	if !ok {
		return "\n  [yellow]Waiting for pool broadcast...[-]\n"
	}
	stale := ""
	if status.Stale {
		stale = " [red](STALE)[-]"
	}
	f := status.Frame
	return fmt.Sprintf(
		"\n  Device:    %s%s\n"+
			"  State:     [::b]%s[::-]\n\n"+
			"  Current:   %s /100m\n"+
			"  Target:    %s /100m\n"+
			"  Keyboard:  %s /100m\n\n"+
			"  Timer:     %s set, %s remaining\n"+
			"  Distance:  %.1f m segment, %.1f m total\n",
		f.DeviceName, stale,
		status.State,
		protocol.FormatPace(status.CurrentPace),
		protocol.FormatPace(status.TargetPace),
		protocol.FormatPace(localPace),
		protocol.FormatTimer(f.SetTimer),
		protocol.FormatTimer(f.RemainingTimer),
		f.SegmentDistance, f.TotalDistance,
	)
}

func must(action string, err error) {
	if err != nil {
		panic("failed to " + action + ": " + err.Error())
	}
}
