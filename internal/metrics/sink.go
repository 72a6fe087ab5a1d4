package metrics

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Sink buffers samples in memory and flushes them as newline-delimited
// records to a preallocated metrics file. It exists because the process
// on the suspend side of a freeze may never get to run again (power-off
// can race a clean shutdown): samples must hit disk before the Conductor's
// suspend branch powers the machine off, and the resume-side process reads
// them back and pushes
// them into the live Prometheus registry once it's safe to scrape again.
type Sink struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	duration []DurationSample
	io       []IOSample
}

// NewSink opens (without truncating) the preallocated file at path for
// buffered sample writes.
func NewSink(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open metrics file %s: %w", path, err)
	}
	return &Sink{path: path, file: f}, nil
}

// SendDurationSample buffers a capped-duration sample and mirrors it into
// the live Prometheus histogram immediately — the buffering only matters
// for surviving the freeze, not for local visibility.
func (s *Sink) SendDurationSample(name string, seconds, maxSeconds float64) {
	s.mu.Lock()
	s.duration = append(s.duration, DurationSample{Name: name, Seconds: seconds, MaxSeconds: maxSeconds})
	s.mu.Unlock()
	DurationSeconds.WithLabelValues(name).Observe(capped(seconds, maxSeconds))
}

// SendIOSample buffers a byte-count/duration sample.
func (s *Sink) SendIOSample(name string, bytes int64, seconds float64) {
	s.mu.Lock()
	s.io = append(s.io, IOSample{Name: name, Bytes: bytes, Seconds: seconds})
	s.mu.Unlock()
	IOBytes.WithLabelValues(name).Observe(float64(bytes))
	IOSeconds.WithLabelValues(name).Observe(seconds)
}

// Flush writes every buffered sample to the underlying file and fsyncs it.
// A flush error is logged by the caller and does not fail the attempt:
// losing diagnostics is preferable to aborting a hibernate that is
// otherwise healthy.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate metrics file %s: %w", s.path, err)
	}
	if _, err := s.file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek metrics file %s: %w", s.path, err)
	}

	w := bufio.NewWriter(s.file)
	for _, d := range s.duration {
		fmt.Fprintf(w, "D\t%s\t%s\t%s\n",
			d.Name,
			strconv.FormatFloat(d.Seconds, 'f', -1, 64),
			strconv.FormatFloat(d.MaxSeconds, 'f', -1, 64))
	}
	for _, io := range s.io {
		fmt.Fprintf(w, "I\t%s\t%d\t%s\n",
			io.Name, io.Bytes, strconv.FormatFloat(io.Seconds, 'f', -1, 64))
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush metrics file %s: %w", s.path, err)
	}
	return s.file.Sync()
}

// Close releases the underlying file without flushing.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// ReplayFile reads a metrics file written by Sink.Flush and pushes every
// record it finds into the live Prometheus registry. It is meant to run
// on the resume side once the registry is reachable again, recovering
// samples taken by a process that may have powered the machine off before
// anything could scrape them.
func ReplayFile(path string) (durations int, ioSamples int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open metrics file %s: %w", path, err)
	}
	defer f.Close()

	// The file is preallocated to its fixed full size and only ever
	// truncated down by a later Flush; an untouched or partially-written
	// file trails off into a single run of zero bytes with no newline,
	// which can exceed bufio.Scanner's default 64KiB token limit. Give it
	// enough room for the largest preallocated metrics file.
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "D":
			if len(fields) != 4 {
				continue
			}
			secs, e1 := strconv.ParseFloat(fields[2], 64)
			maxSecs, e2 := strconv.ParseFloat(fields[3], 64)
			if e1 != nil || e2 != nil {
				continue
			}
			DurationSeconds.WithLabelValues(fields[1]).Observe(capped(secs, maxSecs))
			durations++
		case "I":
			if len(fields) != 4 {
				continue
			}
			bytes, e1 := strconv.ParseInt(fields[2], 10, 64)
			secs, e2 := strconv.ParseFloat(fields[3], 64)
			if e1 != nil || e2 != nil {
				continue
			}
			IOBytes.WithLabelValues(fields[1]).Observe(float64(bytes))
			IOSeconds.WithLabelValues(fields[1]).Observe(secs)
			ioSamples++
		}
	}
	if err := scanner.Err(); err != nil {
		return durations, ioSamples, fmt.Errorf("scan metrics file %s: %w", path, err)
	}
	return durations, ioSamples, nil
}
