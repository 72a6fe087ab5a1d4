// Package conductor implements the Suspend Conductor, the single entry
// point that orchestrates every other package in this module into one
// hibernate attempt: LV preparation, file preallocation, the
// update-engine gate, memory pinning, swappiness, key derivation, the
// log/metrics handoff across the freeze boundary, the atomic-snapshot
// fork point, the image write, and the final power-off.
package conductor

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/tuqiao/hiberman/internal/diskfile"
	"github.com/tuqiao/hiberman/internal/fsstats"
	"github.com/tuqiao/hiberman/internal/hibertypes"
	"github.com/tuqiao/hiberman/internal/imagemover"
	"github.com/tuqiao/hiberman/internal/keyman"
	"github.com/tuqiao/hiberman/internal/logrouter"
	"github.com/tuqiao/hiberman/internal/memlock"
	"github.com/tuqiao/hiberman/internal/metrics"
	"github.com/tuqiao/hiberman/internal/snapdev"
	"github.com/tuqiao/hiberman/internal/splitter"
	"github.com/tuqiao/hiberman/internal/swappiness"
	"github.com/tuqiao/hiberman/internal/updateengine"
	"github.com/tuqiao/hiberman/internal/volume"
	"golang.org/x/sys/unix"
)

// fsStats is the subset of statvfs data the low-disk cleanup heuristic needs.
type fsStats = fsstats.Stats

func getFSStats(path string) (fsStats, error) { return fsstats.Get(path) }

func sync() error {
	unix.Sync()
	return nil
}

func openLogSink(path string) *logrouter.FileSink {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		log.Printf("conductor: warning: failed to open log sink %s: %v", path, err)
		return logrouter.NewFileSink(path, discardFile{})
	}
	return logrouter.NewFileSink(path, f)
}

// discardFile satisfies the FileSink write target when the real log file
// couldn't be opened, so logging degrades instead of panicking.
type discardFile struct{}

func (discardFile) WriteAt(p []byte, off int64) (int, error) { return len(p), nil }
func (discardFile) Close() error                              { return nil }

func removeFile(path string) error { return os.Remove(path) }

// CookieDevice is the subset of cookie.Writer the Conductor depends on.
// Defined here so tests can substitute a fake without touching a real
// block device.
type CookieDevice interface {
	Set(hibertypes.Cookie) error
	Get() (hibertypes.Cookie, error)
}

// Deps are the Conductor's external collaborators. New replaces a nil
// LockMemory or SetSwappiness with the real implementation, and a nil
// PowerOff with a stub that only returns an error; tests override
// individual fields with fakes.
type Deps struct {
	Volume       *volume.Manager
	SnapDev      snapdev.SnapshotDevice
	Cookie       CookieDevice
	UpdateEngine updateengine.Prober
	Metrics      *metrics.Sink
	KeyWrap      []byte // process-local key-wrapping key

	LockMemory    func() (*memlock.Guard, error)
	SetSwappiness func() (*swappiness.Guard, error)
	PowerOff      func() error
	StatefulPath  string

	PageSize    int
	BufferPages int

	// DirectIO controls whether the hiber file is opened with O_DIRECT.
	// The header and metadata files always use buffered I/O regardless of
	// this setting, since the header mover's final write isn't
	// page-aligned. Tests against tmpfs set this false.
	DirectIO bool
}

// Conductor runs hibernate attempts. It is not safe for concurrent use —
// exactly one attempt runs at a time, mirroring the single frozen
// process the real kernel fork-point assumes.
type Conductor struct {
	deps     Deps
	metadata *hibertypes.Metadata
}

// New returns a Conductor, filling any unset Deps fields with the real
// system implementations.
func New(deps Deps) *Conductor {
	if deps.LockMemory == nil {
		deps.LockMemory = memlock.Lock
	}
	if deps.SetSwappiness == nil {
		deps.SetSwappiness = func() (*swappiness.Guard, error) { return swappiness.Set("") }
	}
	if deps.PowerOff == nil {
		deps.PowerOff = func() error { return fmt.Errorf("conductor: no PowerOff implementation configured") }
	}
	if deps.PageSize == 0 {
		deps.PageSize = 4096
	}
	if deps.BufferPages == 0 {
		deps.BufferPages = 32
	}
	return &Conductor{deps: deps, metadata: hibertypes.New()}
}

// Metadata exposes the attempt's metadata record, primarily for tests.
func (c *Conductor) Metadata() *hibertypes.Metadata { return c.metadata }

// Hibernate runs one full suspend attempt: LV setup, preallocation, the
// update-engine gate, memory/swap tuning, key derivation, the freeze and
// snapshot, the image write, and power-off. It returns nil both when a
// dry run completes and when a real attempt resumes successfully. A
// non-nil error is usually one of hibertypes' error types (*Error with a
// Kind, *SnapshotError, *IOError or *ShutdownError); a few image-write
// invariant failures are returned as plain errors.
func (c *Conductor) Hibernate(opts hibertypes.Options) error {
	d := c.deps
	log.Printf("conductor: beginning hibernate")
	start := time.Now()
	metrics.ObserveAttempt("started")

	if err := d.Volume.SetupHibernateLV(true); err != nil {
		return hibertypes.Wrap(hibertypes.KindPreallocation, "setup_hibernate_lv", err)
	}

	if err := d.Volume.CreateLVSnapshotFiles(); err != nil {
		return hibertypes.Wrap(hibertypes.KindPreallocation, "create_lv_snapshot_files", err)
	}

	isLVM := d.Volume.IsLVMSystem()
	filesExist := d.Volume.DoesHiberfileExist()
	shouldZero := isLVM && !filesExist

	for _, f := range []volume.File{
		volume.FileHeader, volume.FileHiber, volume.FileMetadata,
		volume.FileResumeLog, volume.FileResumeMetrics,
	} {
		if _, err := d.Volume.Preallocate(f, shouldZero); err != nil {
			return hibertypes.Wrap(hibertypes.KindPreallocation, "preallocate", err)
		}
	}
	suspendMetricsPath, err := d.Volume.Preallocate(volume.FileSuspendMetrics, shouldZero)
	if err != nil {
		return hibertypes.Wrap(hibertypes.KindPreallocation, "preallocate_suspend_metrics", err)
	}
	// A caller-supplied Metrics sink (tests exercising a flush failure, for
	// instance) takes precedence over opening the preallocated file fresh.
	if d.Metrics == nil {
		suspendSink, err := metrics.NewSink(suspendMetricsPath)
		if err != nil {
			return hibertypes.Wrap(hibertypes.KindPreallocation, "open_suspend_metrics", err)
		}
		d.Metrics = suspendSink
		c.deps.Metrics = suspendSink
	}

	suspendLogPath, err := d.Volume.Preallocate(volume.FileSuspendLog, shouldZero)
	if err != nil {
		return hibertypes.Wrap(hibertypes.KindPreallocation, "preallocate_suspend_log", err)
	}

	setupDuration := time.Since(start)
	log.Printf("conductor: set up hibernate files on lvm=%v in %s", isLVM, setupDuration)
	d.Metrics.SendDurationSample("SetupLVMFiles", setupDuration.Seconds(), 30)

	idle, err := d.UpdateEngine.IsIdle()
	if err != nil {
		return hibertypes.Wrap(hibertypes.KindUpdateEngineBusy, "update_engine_probe", err)
	}
	if !idle {
		return &hibertypes.Error{Kind: hibertypes.KindUpdateEngineBusy, Phase: "update_engine_gate", Err: fmt.Errorf("update engine is not idle")}
	}

	stats, err := getFSStats(d.StatefulPath)
	if err != nil {
		return hibertypes.Wrap(hibertypes.KindPreallocation, "fs_stats", err)
	}

	lockGuard, err := d.LockMemory()
	if err != nil {
		return hibertypes.Wrap(hibertypes.KindMemoryLock, "lock_process_memory", err)
	}
	defer lockGuard.Release()

	swapGuard, err := d.SetSwappiness()
	if err != nil {
		return hibertypes.Wrap(hibertypes.KindSwappiness, "set_swappiness", err)
	}
	defer swapGuard.Restore()

	dataKey, err := keyman.Generate()
	if err != nil {
		return hibertypes.Wrap(hibertypes.KindKeyDerive, "install_new_metadata_key", err)
	}
	km, err := keyman.New(d.KeyWrap)
	if err != nil {
		return hibertypes.Wrap(hibertypes.KindKeyLoad, "load_public_key", err)
	}
	wrapped, err := km.Wrap(dataKey)
	if err != nil {
		return hibertypes.Wrap(hibertypes.KindKeyDerive, "install_new_metadata_key", err)
	}
	c.metadata.WrappedKey = wrapped

	suspendLogSink := openLogSink(suspendLogPath)
	suspendLogSink.SetAllowRecursive(false)
	logrouter.ToFile(suspendLogSink)

	if err := sync(); err != nil {
		log.Printf("conductor: warning: sync failed: %v", err)
	}

	_ = memlock.PreallocateAndTouch(64 << 20)

	result := c.suspendSystem(opts, dataKey)

	logrouter.ToSyslog()
	logrouter.ReplayLogs(suspendLogPath, d.Volume.Path(volume.FileResumeLog), result == nil && !opts.DryRun, !opts.DryRun)

	if n, m, rerr := metrics.ReplayFile(suspendMetricsPath); rerr != nil {
		log.Printf("conductor: warning: failed to replay suspend metrics: %v", rerr)
	} else {
		log.Printf("conductor: replayed %d duration and %d io samples from suspend metrics", n, m)
	}
	if n, m, rerr := metrics.ReplayFile(d.Volume.Path(volume.FileResumeMetrics)); rerr != nil {
		log.Printf("conductor: warning: failed to replay resume metrics: %v", rerr)
	} else {
		log.Printf("conductor: replayed %d duration and %d io samples from resume metrics", n, m)
	}

	c.deleteDataIfDiskFull(stats)
	return result
}

// suspendSystem freezes userspace through the already-open snapshot
// device and takes the attempt through the fork point.
func (c *Conductor) suspendSystem(opts hibertypes.Options, dataKey []byte) error {
	d := c.deps
	log.Printf("conductor: freezing userspace")
	ticket, err := d.SnapDev.FreezeUserspace()
	if err != nil {
		return &hibertypes.Error{Kind: hibertypes.KindSnapshot, Phase: "freeze_userspace", Err: err}
	}
	return c.snapshotAndSave(opts, ticket, dataKey)
}

// snapshotAndSave is the fork point: one call to AtomicSnapshot, two
// logical returns. The true branch runs on the suspending kernel and is
// never observed resuming; the false branch runs after the machine wakes.
func (c *Conductor) snapshotAndSave(opts hibertypes.Options, ticket snapdev.Ticket, dataKey []byte) error {
	d := c.deps
	defer ticket.Release()

	suspending, err := ticket.AtomicSnapshot()
	if err != nil {
		return &hibertypes.SnapshotError{Ioctl: "ATOMIC_SNAPSHOT", Err: err}
	}

	var result error
	if suspending {
		result = c.writeImage(ticket, dataKey)
		if result == nil {
			if err := d.Cookie.Set(hibertypes.ResumeReady); err != nil {
				result = hibertypes.Wrap(hibertypes.KindIO, "set_cookie_resume_ready", err)
			}
		}

		if opts.DryRun {
			log.Printf("conductor: not powering off due to dry run")
		} else {
			log.Printf("conductor: powering off")
		}

		if err := d.Metrics.Flush(); err != nil {
			log.Printf("conductor: warning: failed to flush suspend metrics: %v", err)
		}
		logrouter.ToMemory()

		if !opts.DryRun && result == nil {
			if perr := d.PowerOff(); perr != nil {
				serr := &hibertypes.ShutdownError{Err: perr}
				var errno unix.Errno
				if errors.As(perr, &errno) {
					serr.Errno = int(errno)
				}
				result = serr
			}
		}
	} else {
		logrouter.Reset()
		logrouter.ToMemory()
		log.Printf("conductor: resumed from hibernate")
	}

	if cerr := d.Cookie.Set(hibertypes.NoResume); cerr != nil {
		if !suspending {
			log.Printf("conductor: warning: failed to clear hibernate cookie after resume: %v", cerr)
		} else if result == nil {
			result = hibertypes.Wrap(hibertypes.KindIO, "clear_cookie", cerr)
		}
	}
	return result
}

// writeImage reads the snapshot image off the kernel device and splits it
// into the header and body backing files, deriving the metadata's
// authentication tag as it goes.
func (c *Conductor) writeImage(ticket snapdev.Ticket, dataKey []byte) error {
	d := c.deps
	imageSize, err := ticket.GetImageSize()
	if err != nil {
		return &hibertypes.SnapshotError{Ioctl: "GET_IMAGE_SIZE", Err: err}
	}
	log.Printf("conductor: hibernate image is %d bytes", imageSize)

	headerFile, err := diskfile.OpenBounced(d.Volume.Path(volume.FileHeader))
	if err != nil {
		return hibertypes.Wrap(hibertypes.KindIO, "open_header_file", err)
	}
	defer headerFile.Close()
	if err := headerFile.Rewind(); err != nil {
		return hibertypes.Wrap(hibertypes.KindIO, "rewind_header_file", err)
	}

	hiberFile, err := diskfile.Open(d.Volume.Path(volume.FileHiber), d.DirectIO)
	if err != nil {
		return hibertypes.Wrap(hibertypes.KindIO, "open_hiber_file", err)
	}
	defer hiberFile.Close()
	if err := hiberFile.Rewind(); err != nil {
		return hibertypes.Wrap(hibertypes.KindIO, "rewind_hiber_file", err)
	}

	sp := splitter.New(headerFile, hiberFile, c.metadata, dataKey, false)

	start := time.Now()
	if err := c.moveImage(ticket.Reader(), sp, imageSize); err != nil {
		return err
	}
	ioDuration := time.Since(start)
	log.Printf("conductor: wrote hibernate image (%d bytes) in %s", imageSize, ioDuration)
	d.Metrics.SendIOSample("WriteHibernateImage", imageSize, ioDuration.Seconds())

	sp.Finish()
	if c.metadata.DataTag == [hibertypes.MetaTagSize]byte{} {
		return fmt.Errorf("conductor: image split produced a zero data tag")
	}

	c.metadata.ImageSize = imageSize
	c.metadata.MarkValid()

	metaFile, err := diskfile.OpenBounced(d.Volume.Path(volume.FileMetadata))
	if err != nil {
		return hibertypes.Wrap(hibertypes.KindIO, "open_metadata_file", err)
	}
	defer metaFile.Close()
	if err := metaFile.Rewind(); err != nil {
		return hibertypes.Wrap(hibertypes.KindIO, "rewind_metadata_file", err)
	}
	if _, err := c.metadata.WriteTo(metaFile.File()); err != nil {
		return hibertypes.Wrap(hibertypes.KindIO, "write_metadata", err)
	}
	return nil
}

// moveImage streams the kernel's snapshot image in three stages: a single
// probe page (so the splitter can learn the header's true size), the rest
// of the header without padding (the splitter would route any padding
// past MetaSize into the body sink), and finally the body padded to a
// page multiple. The split into stages exists only so the body mover's writes
// stay page-aligned even though the header's natural size isn't.
func (c *Conductor) moveImage(src io.Reader, sp *splitter.Splitter, imageSize int64) error {
	pageSize := c.deps.PageSize
	bufferBytes := pageSize * c.deps.BufferPages

	if sp.MetaSize == 0 {
		probe, err := imagemover.New(src, sp, int64(pageSize), pageSize, pageSize)
		if err != nil {
			return fmt.Errorf("probe mover: %w", err)
		}
		if n, err := probe.MoveAll(); err != nil {
			return &hibertypes.IOError{Phase: "move_probe_page", BytesDone: n, Err: err}
		}
	}
	if sp.MetaSize == 0 {
		return fmt.Errorf("splitter did not learn a header size from the probe page")
	}

	headerRemaining := sp.MetaSize - int64(pageSize)
	if headerRemaining > 0 {
		headerMover, err := imagemover.New(src, sp, headerRemaining, pageSize, bufferBytes)
		if err != nil {
			return fmt.Errorf("header mover: %w", err)
		}
		if n, err := headerMover.MoveAll(); err != nil {
			return &hibertypes.IOError{Phase: "move_header_pages", BytesDone: n, Err: err}
		}
	}

	bodyBytes := imageSize - sp.MetaSize
	bodyMover, err := imagemover.New(src, sp, bodyBytes, pageSize, bufferBytes)
	if err != nil {
		return fmt.Errorf("body mover: %w", err)
	}
	bodyMover.PadOutputLength()
	if n, err := bodyMover.MoveAll(); err != nil {
		return &hibertypes.IOError{Phase: "move_data_pages", BytesDone: n, Err: err}
	}
	return nil
}

// deleteDataIfDiskFull frees the hiber and metadata files if the stateful
// partition's free space, as sampled before the freeze, is below the
// low-disk threshold. Log
// and metrics files are retained since operators need them for postmortem.
func (c *Conductor) deleteDataIfDiskFull(stats fsStats) {
	if !stats.ShouldFreeHiberdata() {
		log.Printf("conductor: not freeing hiberfile: fs is %d%% free", stats.FreePercent())
		return
	}
	log.Printf("conductor: freeing hiberdata: fs is only %d%% free", stats.FreePercent())
	for _, f := range []volume.File{volume.FileHiber, volume.FileMetadata} {
		path := c.deps.Volume.Path(f)
		if err := removeFile(path); err != nil {
			log.Printf("conductor: warning: failed to unlink %s: %v", path, err)
		}
	}
}
