package tacpam

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// sigGuard diverts the signals commonly raised by a modem hang-up
// while an accounting STOP is on the wire, so a dropped line cannot
// kill the process before the record is sent. release restores the
// previous disposition and must run on every exit path.
type sigGuard struct {
	ch chan os.Signal
}

func suppressHangup() *sigGuard {
	g := &sigGuard{ch: make(chan os.Signal, 8)}
	signal.Notify(g.ch, unix.SIGALRM, unix.SIGCHLD, unix.SIGHUP)
	return g
}

func (g *sigGuard) release() {
	signal.Stop(g.ch)
	// drain anything delivered while suppressed
	for {
		select {
		case <-g.ch:
		default:
			return
		}
	}
}
