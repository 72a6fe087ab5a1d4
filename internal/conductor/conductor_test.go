package conductor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/tuqiao/hiberman/internal/hibertypes"
	"github.com/tuqiao/hiberman/internal/memlock"
	"github.com/tuqiao/hiberman/internal/metrics"
	"github.com/tuqiao/hiberman/internal/snapdev"
	"github.com/tuqiao/hiberman/internal/splitter"
	"github.com/tuqiao/hiberman/internal/swappiness"
	"github.com/tuqiao/hiberman/internal/volume"
)

// erroringReader reads normally until remain bytes have been consumed, then
// fails every subsequent Read with err — used to land a mover partway
// through a chunk so its returned byte count is observably nonzero.
type erroringReader struct {
	r      io.Reader
	remain int
	err    error
}

func (e *erroringReader) Read(p []byte) (int, error) {
	if e.remain <= 0 {
		return 0, e.err
	}
	if len(p) > e.remain {
		p = p[:e.remain]
	}
	n, err := e.r.Read(p)
	e.remain -= n
	return n, err
}

// buildFakeImage constructs a fake kernel snapshot image: an 8-byte
// little-endian header-size field followed by the rest of the header and
// then the body. Callers choose the sizes; most use page multiples to keep
// test arithmetic simple.
func buildFakeImage(headerSize, bodyLen int) []byte {
	buf := make([]byte, headerSize+bodyLen)
	binary.LittleEndian.PutUint64(buf[:8], uint64(headerSize))
	for i := headerSize; i < len(buf); i++ {
		buf[i] = 0xCD
	}
	return buf
}

type fakeTicket struct {
	image        []byte
	atomicResult bool
	atomicErr    error
	released     bool
}

func (f *fakeTicket) AtomicSnapshot() (bool, error) { return f.atomicResult, f.atomicErr }
func (f *fakeTicket) GetImageSize() (int64, error)  { return int64(len(f.image)), nil }
func (f *fakeTicket) Reader() io.Reader             { return bytes.NewReader(f.image) }
func (f *fakeTicket) Release() error                { f.released = true; return nil }

var _ snapdev.Ticket = (*fakeTicket)(nil)

type fakeSnapDevice struct {
	ticket  *fakeTicket
	freezeErr error
}

func (f *fakeSnapDevice) FreezeUserspace() (snapdev.Ticket, error) {
	if f.freezeErr != nil {
		return nil, f.freezeErr
	}
	return f.ticket, nil
}
func (f *fakeSnapDevice) Close() error { return nil }

var _ snapdev.SnapshotDevice = (*fakeSnapDevice)(nil)

type fakeCookie struct{ value hibertypes.Cookie }

func (c *fakeCookie) Set(v hibertypes.Cookie) error { c.value = v; return nil }
func (c *fakeCookie) Get() (hibertypes.Cookie, error) { return c.value, nil }

type fakeProber struct {
	idle bool
	err  error
}

func (f *fakeProber) IsIdle() (bool, error) { return f.idle, f.err }

func swappinessFake(t *testing.T) func() (*swappiness.Guard, error) {
	path := filepath.Join(t.TempDir(), "swappiness")
	if err := os.WriteFile(path, []byte("60\n"), 0644); err != nil {
		t.Fatalf("seed swappiness file: %v", err)
	}
	return func() (*swappiness.Guard, error) { return swappiness.Set(path) }
}

func baseDeps(t *testing.T) (Deps, *fakeSnapDevice, *fakeCookie, *fakeProber) {
	dir := t.TempDir()
	vol := volume.New(dir)

	image := buildFakeImage(8192, 8192)
	ticket := &fakeTicket{image: image, atomicResult: true}
	snapDev := &fakeSnapDevice{ticket: ticket}
	cookie := &fakeCookie{}
	prober := &fakeProber{idle: true}

	probeGuard, err := memlock.Lock()
	if err != nil {
		t.Skipf("skipping: mlockall unavailable in this environment: %v", err)
	}
	probeGuard.Release()

	deps := Deps{
		Volume:        vol,
		SnapDev:       snapDev,
		Cookie:        cookie,
		UpdateEngine:  prober,
		KeyWrap:       bytes.Repeat([]byte{0x5}, 32),
		SetSwappiness: swappinessFake(t),
		PowerOff:      func() error { return nil },
		StatefulPath:  dir,
		PageSize:      4096,
		BufferPages:   2,
		DirectIO:      false,
	}
	return deps, snapDev, cookie, prober
}

func TestHibernateDryRunHappyPath(t *testing.T) {
	deps, _, cookie, _ := baseDeps(t)
	c := New(deps)

	if err := c.Hibernate(hibertypes.Options{DryRun: true}); err != nil {
		t.Fatalf("Hibernate() error: %v", err)
	}
	if cookie.value != hibertypes.NoResume {
		t.Fatalf("expected cookie to end at NoResume, got %v", cookie.value)
	}
	if !c.Metadata().IsValid() {
		t.Fatalf("expected metadata to be marked valid after a successful attempt")
	}
	if c.Metadata().ImageSize != 16384 {
		t.Fatalf("expected image size 16384, got %d", c.Metadata().ImageSize)
	}
}

func TestHibernateUpdateEngineBusy(t *testing.T) {
	deps, _, cookie, prober := baseDeps(t)
	prober.idle = false
	c := New(deps)

	err := c.Hibernate(hibertypes.Options{DryRun: true})
	if err == nil {
		t.Fatalf("expected an error when update engine is busy")
	}
	var herr *hibertypes.Error
	if !errors.As(err, &herr) || herr.Kind != hibertypes.KindUpdateEngineBusy {
		t.Fatalf("expected KindUpdateEngineBusy, got %v", err)
	}
	if cookie.value != hibertypes.NoResume {
		t.Fatalf("expected cookie untouched (NoResume), got %v", cookie.value)
	}
}

func TestHibernateSnapshotError(t *testing.T) {
	deps, snapDev, cookie, _ := baseDeps(t)
	snapDev.ticket.atomicErr = errors.New("ioctl failed")
	c := New(deps)

	err := c.Hibernate(hibertypes.Options{DryRun: true})
	if err == nil {
		t.Fatalf("expected a snapshot error")
	}
	var serr *hibertypes.SnapshotError
	if !errors.As(err, &serr) {
		t.Fatalf("expected a *hibertypes.SnapshotError, got %v (%T)", err, err)
	}
	if cookie.value != hibertypes.NoResume {
		t.Fatalf("expected cookie to remain NoResume after a snapshot failure, got %v", cookie.value)
	}
	if !snapDev.ticket.released {
		t.Fatalf("expected the frozen-userspace ticket to be released on failure")
	}
}

func TestHibernateMetricsFlushFailureIsNonFatal(t *testing.T) {
	deps, _, _, _ := baseDeps(t)

	metricsPath := deps.Volume.Path(volume.FileSuspendMetrics)
	sink, err := metrics.NewSink(metricsPath)
	if err != nil {
		t.Fatalf("NewSink() error: %v", err)
	}
	sink.Close() // closing ahead of time makes the eventual Flush() fail
	deps.Metrics = sink

	c := New(deps)
	if err := c.Hibernate(hibertypes.Options{DryRun: true}); err != nil {
		t.Fatalf("expected Hibernate to succeed despite a metrics flush failure, got: %v", err)
	}
}

func TestDeleteDataIfDiskFullUnlinksHiberAndMetadataOnly(t *testing.T) {
	dir := t.TempDir()
	vol := volume.New(dir)
	if _, err := vol.Preallocate(volume.FileHiber, false); err != nil {
		t.Fatalf("preallocate hiber: %v", err)
	}
	if _, err := vol.Preallocate(volume.FileMetadata, false); err != nil {
		t.Fatalf("preallocate metadata: %v", err)
	}
	if _, err := vol.Preallocate(volume.FileSuspendLog, false); err != nil {
		t.Fatalf("preallocate suspend log: %v", err)
	}

	c := New(Deps{Volume: vol})
	c.deleteDataIfDiskFull(fakeLowFSStats())

	if _, err := os.Stat(vol.Path(volume.FileHiber)); !os.IsNotExist(err) {
		t.Fatalf("expected hiber file to be unlinked, stat err=%v", err)
	}
	if _, err := os.Stat(vol.Path(volume.FileMetadata)); !os.IsNotExist(err) {
		t.Fatalf("expected metadata file to be unlinked, stat err=%v", err)
	}
	if _, err := os.Stat(vol.Path(volume.FileSuspendLog)); err != nil {
		t.Fatalf("expected suspend log file to be retained, got err=%v", err)
	}
}

func fakeLowFSStats() fsStats {
	return fsStats{FreeBlocks: 7, TotalBlocks: 100}
}

// TestHibernateDryRunWithDirectIOUnalignedHeader exercises DirectIO: true,
// which production always sets, against a header whose remainder after the
// probe page isn't a page multiple — the shape that previously reached
// O_DIRECT on the header file and failed with EINVAL.
func TestHibernateDryRunWithDirectIOUnalignedHeader(t *testing.T) {
	deps, snapDev, cookie, _ := baseDeps(t)

	probePath := filepath.Join(deps.StatefulPath, "direct-io-probe")
	probe, err := os.OpenFile(probePath, os.O_RDWR|os.O_CREATE|unix.O_DIRECT, 0600)
	if err != nil {
		t.Skipf("skipping: O_DIRECT unavailable against this tempdir's filesystem: %v", err)
	}
	probe.Close()
	os.Remove(probePath)

	snapDev.ticket.image = buildFakeImage(6000, 8192)
	deps.DirectIO = true

	c := New(deps)
	if err := c.Hibernate(hibertypes.Options{DryRun: true}); err != nil {
		t.Fatalf("Hibernate() with DirectIO=true and an unaligned header error: %v", err)
	}
	if cookie.value != hibertypes.NoResume {
		t.Fatalf("expected cookie to end at NoResume, got %v", cookie.value)
	}
	if want := int64(6000 + 8192); c.Metadata().ImageSize != want {
		t.Fatalf("expected image size %d, got %d", want, c.Metadata().ImageSize)
	}
}

// TestMoveImageWrapsMoverFailureAsIOError confirms a mover failure partway
// through the header surfaces as a *hibertypes.IOError carrying the bytes
// actually transferred, not a plain wrapped error with no byte count.
func TestMoveImageWrapsMoverFailureAsIOError(t *testing.T) {
	deps, _, _, _ := baseDeps(t)
	c := New(deps)

	image := buildFakeImage(8192, 8192)
	src := &erroringReader{r: bytes.NewReader(image), remain: 4096 + 100, err: errors.New("injected read failure")}
	sp := splitter.New(&bytes.Buffer{}, &bytes.Buffer{}, c.Metadata(), bytes.Repeat([]byte{1}, 32), false)

	err := c.moveImage(src, sp, int64(len(image)))
	if err == nil {
		t.Fatalf("expected moveImage to fail")
	}
	var ioErr *hibertypes.IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected a *hibertypes.IOError, got %v (%T)", err, err)
	}
	if ioErr.Phase != "move_header_pages" {
		t.Fatalf("expected phase move_header_pages, got %q", ioErr.Phase)
	}
	if ioErr.BytesDone == 0 {
		t.Fatalf("expected BytesDone to reflect the partial header write, got 0")
	}
}

// TestHibernateReplaysBothMetricsFiles seeds the resume metrics file (the
// suspend metrics file is overwritten by the live Sink's own Flush, so it
// can't be seeded the same way) and confirms Hibernate drains it in
// addition to the suspend metrics file.
func TestHibernateReplaysBothMetricsFiles(t *testing.T) {
	deps, _, _, _ := baseDeps(t)

	resumeContent := "D\tconductor-test-resume-duration\t2.0\t10\nI\tconductor-test-resume-io\t4096\t0.5\n"
	if err := os.WriteFile(deps.Volume.Path(volume.FileResumeMetrics), []byte(resumeContent), 0644); err != nil {
		t.Fatalf("seed resume metrics file: %v", err)
	}

	var logBuf bytes.Buffer
	log.SetOutput(&logBuf)
	defer log.SetOutput(os.Stderr)

	c := New(deps)
	if err := c.Hibernate(hibertypes.Options{DryRun: true}); err != nil {
		t.Fatalf("Hibernate() error: %v", err)
	}

	if !strings.Contains(logBuf.String(), "replayed 1 duration and 1 io samples from resume metrics") {
		t.Fatalf("expected the seeded resume metrics file to be replayed, log output:\n%s", logBuf.String())
	}
	if !strings.Contains(logBuf.String(), "from suspend metrics") {
		t.Fatalf("expected the suspend metrics file to still be replayed too, log output:\n%s", logBuf.String())
	}
}
