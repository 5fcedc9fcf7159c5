//go:build !unix

package main

import (
	"github.com/rs/zerolog"

	"github.com/seisflow/seedship"
)

// notifyDump is a no-op where SIGUSR1 does not exist.
func notifyDump(s *seedship.Shipper, log zerolog.Logger) {}
