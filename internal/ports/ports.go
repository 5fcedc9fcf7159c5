// Package ports declares the narrow interfaces through which the transfer
// core talks to its collaborators: the record source that decodes raw file
// bytes into records, and the transport that delivers them to the remote
// collector. Adapters live in internal/record and internal/transport; tests
// substitute in-memory implementations.
package ports

import (
	"context"
	"errors"

	"github.com/seisflow/seedship/internal/hptime"
)

var (
	// ErrEndOfData signals that no further complete record exists at or
	// beyond the requested offset.
	ErrEndOfData = errors.New("end of data")

	// ErrNotRecordData signals bytes that cannot be a record at all, as
	// opposed to a record that is merely incomplete.
	ErrNotRecordData = errors.New("not record data")

	// ErrShortRecord signals a truncated record at the end of a file,
	// typically one still being appended by the writer.
	ErrShortRecord = errors.New("short record")
)

// Record is one fixed-length data record ready for transmission, together
// with the decoded identity and timing used for selection, coverage tracking
// and the transport header.
type Record struct {
	Data []byte

	Network  string
	Station  string
	Location string
	Channel  string
	Quality  byte

	Start       hptime.Time
	End         hptime.Time
	SampleRate  float64
	SampleCount int64
}

// StreamID returns the transport stream identifier for the record,
// "NET_STA_LOC_CHAN/DATA".
func (r *Record) StreamID() string {
	return r.Network + "_" + r.Station + "_" + r.Location + "_" + r.Channel + "/DATA"
}

// RecordSource yields well-formed records from local files. Implementations
// decode the bytes at the given offset and report malformed or truncated
// data through the sentinel errors above.
type RecordSource interface {
	// Next returns the record found at offset in the named file.
	Next(path string, offset int64) (*Record, error)
}

// Transport delivers records to the remote collector over a persistent
// session.
type Transport interface {
	// Connect establishes the session and performs the handshake.
	Connect(ctx context.Context) error

	// WritePermission reports whether the remote peer granted write access
	// during the handshake. Valid after a successful Connect.
	WritePermission() bool

	// Write sends one record. When requireAck is set the call does not
	// return success until the peer confirms durable receipt.
	Write(ctx context.Context, rec *Record, requireAck bool) error

	// Close tears down the session. Safe to call more than once.
	Close() error
}
