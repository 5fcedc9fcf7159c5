// Package record implements the bundled record source: fixed 512-byte
// records with a compact binary header carrying the channel identity and
// timing. The transfer core only depends on the ports.RecordSource
// interface, so a different decoder can be substituted without touching it.
package record

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/seisflow/seedship/internal/hptime"
	"github.com/seisflow/seedship/internal/ports"
)

// Length is the fixed record length in bytes.
const Length = 512

// headerLen is the encoded header size; the remainder of a record is payload.
const headerLen = 32

var magic = [2]byte{'S', 'D'}

// Source reads records from local files. It caches the most recently used
// file handle since the engine reads each file front to back.
type Source struct {
	path string
	f    *os.File
}

// NewSource returns a Source ready for use.
func NewSource() *Source { return &Source{} }

// Next decodes the record at offset in the named file. It returns
// ports.ErrEndOfData at or past the end of the file, ports.ErrShortRecord
// when fewer than Length bytes remain (a record still being appended), and
// ports.ErrNotRecordData when the bytes are not a record.
func (s *Source) Next(path string, offset int64) (*ports.Record, error) {
	f, err := s.open(path)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, Length)
	n, err := f.ReadAt(buf, offset)
	if n < Length {
		switch {
		case err == io.EOF && n == 0:
			return nil, ports.ErrEndOfData
		case err == io.EOF:
			return nil, fmt.Errorf("%w: %d of %d bytes at offset %d", ports.ErrShortRecord, n, Length, offset)
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	return Decode(buf)
}

// Close releases the cached file handle.
func (s *Source) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f, s.path = nil, ""
	return err
}

func (s *Source) open(path string) (*os.File, error) {
	if s.f != nil && s.path == path {
		return s.f, nil
	}
	if s.f != nil {
		s.f.Close()
		s.f, s.path = nil, ""
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s.f, s.path = f, path
	return f, nil
}

// Decode parses one full record buffer.
//
// Header layout, big endian:
//
//	0   magic "SD"
//	2   version (1)
//	3   quality code
//	4   network (2 bytes, space padded)
//	6   station (5 bytes, space padded)
//	11  location (2 bytes, space padded)
//	13  channel (3 bytes, space padded)
//	16  start time, ticks (int64)
//	24  sample rate * 1000 (uint32)
//	28  sample count (uint32)
func Decode(buf []byte) (*ports.Record, error) {
	if len(buf) < Length {
		return nil, fmt.Errorf("%w: %d bytes", ports.ErrShortRecord, len(buf))
	}
	if buf[0] != magic[0] || buf[1] != magic[1] {
		return nil, fmt.Errorf("%w: bad magic %q", ports.ErrNotRecordData, buf[:2])
	}
	if buf[2] != 1 {
		return nil, fmt.Errorf("%w: unknown version %d", ports.ErrNotRecordData, buf[2])
	}

	rec := &ports.Record{
		Data:        buf[:Length],
		Quality:     buf[3],
		Network:     unpad(buf[4:6]),
		Station:     unpad(buf[6:11]),
		Location:    unpad(buf[11:13]),
		Channel:     unpad(buf[13:16]),
		Start:       hptime.Time(binary.BigEndian.Uint64(buf[16:24])),
		SampleRate:  float64(binary.BigEndian.Uint32(buf[24:28])) / 1000,
		SampleCount: int64(binary.BigEndian.Uint32(buf[28:32])),
	}
	rec.End = endTime(rec.Start, rec.SampleRate, rec.SampleCount)
	return rec, nil
}

// Encode renders a record buffer from identity and timing; payload beyond
// the header is zero filled. Used by the generator and by tests.
func Encode(rec *ports.Record) []byte {
	buf := make([]byte, Length)
	buf[0], buf[1] = magic[0], magic[1]
	buf[2] = 1
	buf[3] = rec.Quality
	pad(buf[4:6], rec.Network)
	pad(buf[6:11], rec.Station)
	pad(buf[11:13], rec.Location)
	pad(buf[13:16], rec.Channel)
	binary.BigEndian.PutUint64(buf[16:24], uint64(rec.Start))
	binary.BigEndian.PutUint32(buf[24:28], uint32(rec.SampleRate*1000+0.5))
	binary.BigEndian.PutUint32(buf[28:32], uint32(rec.SampleCount))
	return buf
}

// endTime is the time of the last sample: start + (count-1)/rate seconds.
func endTime(start hptime.Time, rate float64, count int64) hptime.Time {
	if rate <= 0 || count <= 0 {
		return start
	}
	return start + hptime.Time(float64(count-1)/rate*hptime.Modulus+0.5)
}

func unpad(b []byte) string { return strings.TrimRight(string(b), " \x00") }

func pad(dst []byte, s string) {
	for i := range dst {
		if i < len(s) {
			dst[i] = s[i]
		} else {
			dst[i] = ' '
		}
	}
}
