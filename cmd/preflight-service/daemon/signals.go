package daemon

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
)

// installSignalHandler shuts the daemon down on SIGINT/SIGTERM and dumps
// goroutine stacks on SIGHUP. The returned function stops the handler and
// waits for it to finish.
func (a *App) installSignalHandler() func() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for sig := range c {
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				a.Quit()
				return
			case syscall.SIGHUP:
				dumpStacks()
			}
		}
	}()

	return func() {
		signal.Stop(c)
		close(c)
		<-done
	}
}

// dumpStacks prints the stack traces of all goroutines to stdout.
func dumpStacks() {
	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, true)
	fmt.Printf("%s", buf[:n])
}
