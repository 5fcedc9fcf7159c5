// Package coverage accumulates the contiguous time segments of data sent
// per channel and renders the shutdown manifest. Segments only ever extend
// or append: the engine feeds records in increasing time order per channel,
// so a record either continues the channel's last segment or opens a new
// one after a gap.
package coverage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/seisflow/seedship/internal/hptime"
	"github.com/seisflow/seedship/internal/ports"
)

// Segment is one contiguous interval of transmitted data for a channel.
// Read-only once the manifest has been rendered.
type Segment struct {
	Network  string
	Station  string
	Location string
	Channel  string
	Quality  byte

	Start      hptime.Time
	End        hptime.Time
	SampleRate float64
	Samples    int64
}

// Tracker owns the segment lists, keyed by channel identity.
type Tracker struct {
	log      zerolog.Logger
	segments []*Segment
	last     map[string]*Segment
}

// NewTracker returns an empty tracker.
func NewTracker(log zerolog.Logger) *Tracker {
	return &Tracker{log: log, last: make(map[string]*Segment)}
}

// Add folds a successfully sent record into the coverage model. Segments
// are tracked per channel and quality code; when the record starts within
// one expected sample interval of that segment's end the segment extends,
// otherwise a new segment opens.
func (t *Tracker) Add(rec *ports.Record) {
	key := rec.Network + "_" + rec.Station + "_" + rec.Location + "_" + rec.Channel +
		"_" + string(rec.Quality)

	seg := t.last[key]
	if seg != nil && seg.SampleRate == rec.SampleRate && adjacent(seg.End, rec.Start, rec.SampleRate) {
		seg.End = rec.End
		seg.Samples += rec.SampleCount
		return
	}

	seg = &Segment{
		Network:    rec.Network,
		Station:    rec.Station,
		Location:   rec.Location,
		Channel:    rec.Channel,
		Quality:    rec.Quality,
		Start:      rec.Start,
		End:        rec.End,
		SampleRate: rec.SampleRate,
		Samples:    rec.SampleCount,
	}
	t.segments = append(t.segments, seg)
	t.last[key] = seg
}

// adjacent reports whether start continues a segment ending at end: the gap
// must be no more than one sample interval in either direction.
func adjacent(end, start hptime.Time, rate float64) bool {
	if rate <= 0 {
		return end == start
	}
	interval := hptime.Time(hptime.Modulus/rate + 0.5)
	diff := start - end
	if diff < 0 {
		diff = -diff
	}
	return diff <= interval
}

// Segments returns all segments in creation order.
func (t *Tracker) Segments() []*Segment { return t.segments }

// WriteSync renders the coverage manifest into dir. The file name encodes
// the session's wall-clock start and end so repeated runs never collide.
// Nothing is written when no data was sent; the returned name is empty in
// that case.
func (t *Tracker) WriteSync(dir string, start, end hptime.Time) (string, error) {
	if len(t.segments) == 0 {
		return "", nil
	}

	yearday := hptime.Now().DayOfYearString(false)[:8]
	name := fmt.Sprintf("%s--%s.sync", start.ISO(false), end.ISO(false))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create sync file: %w", err)
	}

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "DCC|%s\n", yearday)
	for _, seg := range t.segments {
		fmt.Fprintf(w, "%s|%s|%s|%s|%s|%s||%.2g|%d|||||||%s\n",
			seg.Network, seg.Station, seg.Location, seg.Channel,
			seg.Start.DayOfYearString(true), seg.End.DayOfYearString(true),
			seg.SampleRate, seg.Samples, yearday)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return "", fmt.Errorf("write sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close sync file: %w", err)
	}

	t.log.Info().Str("file", path).Int("segments", len(t.segments)).Msg("wrote sync file")
	return path, nil
}
