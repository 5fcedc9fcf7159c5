//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/seisflow/seedship"
)

// notifyDump wires SIGUSR1 to a progress dump on stderr.
func notifyDump(s *seedship.Shipper, log zerolog.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	go func() {
		for range ch {
			log.Debug().Msg("progress dump requested")
			s.RequestDump()
		}
	}()
}
