// Command hibermand is the suspend-side entry point for the hibernate
// pipeline: it wires the Conductor against the real snapshot device,
// cookie device, and fleet-optional collaborators, and exposes them as a
// small set of cobra subcommands.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tuqiao/hiberman/internal/conductor"
	"github.com/tuqiao/hiberman/internal/config"
	"github.com/tuqiao/hiberman/internal/cookie"
	"github.com/tuqiao/hiberman/internal/diagnostics"
	"github.com/tuqiao/hiberman/internal/escrow"
	"github.com/tuqiao/hiberman/internal/fleetgate"
	"github.com/tuqiao/hiberman/internal/hibertypes"
	"github.com/tuqiao/hiberman/internal/ledger"
	"github.com/tuqiao/hiberman/internal/metrics"
	"github.com/tuqiao/hiberman/internal/notify"
	"github.com/tuqiao/hiberman/internal/power"
	"github.com/tuqiao/hiberman/internal/snapdev"
	"github.com/tuqiao/hiberman/internal/updateengine"
	"github.com/tuqiao/hiberman/internal/volume"
)

var rootCmd = &cobra.Command{
	Use:   "hibermand",
	Short: "hibermand drives one hibernate suspend attempt",
	Long: `hibermand orchestrates LV preparation, memory pinning, the kernel's
atomic snapshot, the encrypting image write, and power-off for a single
hibernate attempt, plus small operator subcommands for the resume cookie,
the Prometheus metrics endpoint, and bundling suspend/resume diagnostics.`,
}

func main() {
	rootCmd.AddCommand(suspendCmd, cookieCmd, metricsServeCmd, diagnosticsCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var dryRun bool

var suspendCmd = &cobra.Command{
	Use:   "suspend",
	Short: "Run one hibernate suspend attempt",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSuspend(dryRun)
	},
}

func init() {
	suspendCmd.Flags().BoolVar(&dryRun, "dry-run", false, "skip the final power-off so the pipeline runs without hibernating")
}

func runSuspend(dryRun bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	snapDev, err := snapdev.OpenDevice(cfg.SnapshotDevicePath)
	if err != nil {
		return fmt.Errorf("open snapshot device %s: %w", cfg.SnapshotDevicePath, err)
	}
	defer snapDev.Close()

	cookieDev := cookie.NewWriter(cfg.CookieDevicePath)

	keyWrap, err := hex.DecodeString(cfg.KeyWrapHex)
	if err != nil {
		return fmt.Errorf("decode HIBERMAN_KEY_WRAP_HEX: %w", err)
	}

	gate, err := openFleetgateIfConfigured(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("open fleetgate: %w", err)
	}
	defer gate.Close()

	ctx := context.Background()
	if !gate.Allowed(ctx, cfg.FleetID) {
		return fmt.Errorf("hibermand: fleet %s is in a maintenance freeze", cfg.FleetID)
	}

	c := conductor.New(conductor.Deps{
		Volume:       volume.New(cfg.StatefulPath),
		SnapDev:      snapDev,
		Cookie:       cookieDev,
		UpdateEngine: updateengine.NewCLIProber(),
		KeyWrap:      keyWrap,
		PowerOff:     power.Off,
		StatefulPath: cfg.StatefulPath,
		PageSize:     cfg.PageSize,
		BufferPages:  cfg.BufferPages,
		DirectIO:     cfg.DirectIO,
	})

	attemptID := uuid.New()
	start := time.Now()
	log.Printf("hibermand: starting attempt %s (dry_run=%v)", attemptID, dryRun)

	err = c.Hibernate(hibertypes.Options{DryRun: dryRun})
	duration := time.Since(start)

	publishAndRecord(cfg, attemptID, c.Metadata().ImageSize, duration, err)

	if err != nil {
		return fmt.Errorf("hibernate attempt %s failed: %w", attemptID, err)
	}
	log.Printf("hibermand: attempt %s completed in %s", attemptID, duration)
	return nil
}

func openFleetgateIfConfigured(redisURL string) (*fleetgate.Gate, error) {
	if redisURL == "" {
		return nil, nil
	}
	return fleetgate.Open(redisURL)
}

// publishAndRecord best-effort publishes to NATS and records to the
// Postgres ledger. Neither failure is fatal to the attempt, which has
// already completed (or failed) by the time this runs.
func publishAndRecord(cfg *config.Config, attemptID uuid.UUID, imageSize int64, duration time.Duration, attemptErr error) {
	outcome := "success"
	if attemptErr != nil {
		outcome = "failure"
	}

	if cfg.NATSURL != "" {
		pub, err := notify.Connect(cfg.NATSURL)
		if err != nil {
			log.Printf("hibermand: notify connect failed: %v", err)
		} else {
			defer pub.Close()
			pub.Publish(notify.SubjectSuspendCompleted, notify.Event{
				DeviceID:  cfg.DeviceID,
				ImageSize: imageSize,
				Duration:  duration.Seconds(),
				Outcome:   outcome,
				Timestamp: time.Now(),
			})
		}
	}

	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		l, err := ledger.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Printf("hibermand: ledger open failed: %v", err)
			return
		}
		defer l.Close()

		failKind := ""
		if attemptErr != nil {
			failKind = attemptErr.Error()
		}
		rec := ledger.Attempt{
			ID:        attemptID,
			DeviceID:  cfg.DeviceID,
			ImageSize: imageSize,
			Duration:  duration,
			Outcome:   ledger.Outcome(outcome),
			FailKind:  failKind,
			StartedAt: time.Now().Add(-duration),
		}
		if err := l.Record(ctx, rec); err != nil {
			log.Printf("hibermand: ledger record failed: %v", err)
		}
	}

	if cfg.S3Bucket != "" {
		mirror, err := escrow.New(cfg.DeviceID, escrow.Config{
			Endpoint:        cfg.S3Endpoint,
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			ForcePathStyle:  cfg.S3ForcePathStyle,
		})
		if err != nil {
			log.Printf("hibermand: escrow init failed: %v", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		metaPath := volume.New(cfg.StatefulPath).Path(volume.FileMetadata)
		if err := mirror.Upload(ctx, metaPath); err != nil {
			log.Printf("hibermand: escrow upload failed: %v", err)
		}
	}
}

var cookieCmd = &cobra.Command{
	Use:   "cookie",
	Short: "Inspect or set the resume cookie",
}

var cookieGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current resume cookie value",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		w := cookie.NewWriter(cfg.CookieDevicePath)
		v, err := w.Get()
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	},
}

var cookieSetCmd = &cobra.Command{
	Use:   "set [no-resume|resume-ready]",
	Short: "Force the resume cookie to a specific value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		var v hibertypes.Cookie
		switch args[0] {
		case "no-resume":
			v = hibertypes.NoResume
		case "resume-ready":
			v = hibertypes.ResumeReady
		default:
			return fmt.Errorf("unknown cookie value %q", args[0])
		}
		return cookie.NewWriter(cfg.CookieDevicePath).Set(v)
	},
}

func init() {
	cookieCmd.AddCommand(cookieGetCmd, cookieSetCmd)
}

var metricsAddr string

var metricsServeCmd = &cobra.Command{
	Use:   "metrics-serve",
	Short: "Serve the Prometheus /metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := metricsAddr
		if addr == "" {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			addr = cfg.MetricsAddr
		}
		if addr == "" {
			addr = ":9090"
		}
		log.Printf("hibermand: serving metrics on %s", addr)
		srv := metrics.StartServer(addr)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Println("hibermand: shutting down metrics server")
		return srv.Close()
	},
}

func init() {
	metricsServeCmd.Flags().StringVar(&metricsAddr, "addr", "", "address to serve /metrics on (defaults to HIBERMAN_METRICS_ADDR or :9090)")
}

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Bundle or inspect the suspend/resume log and metrics files",
}

// diagnosticsFiles names the four files a hibernate attempt preallocates
// that are worth pulling off a device for postmortem, regardless of
// whether the attempt succeeded.
func diagnosticsFiles(vol *volume.Manager) map[string]string {
	return map[string]string{
		"suspend_log":     vol.Path(volume.FileSuspendLog),
		"resume_log":      vol.Path(volume.FileResumeLog),
		"suspend_metrics": vol.Path(volume.FileSuspendMetrics),
		"resume_metrics":  vol.Path(volume.FileResumeMetrics),
	}
}

var diagnosticsBundleOut string

var diagnosticsBundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Bundle the suspend/resume log and metrics files into a zstd archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		out := diagnosticsBundleOut
		if out == "" {
			out = filepath.Join(cfg.StatefulPath, "hiberman-diagnostics.tar.zst")
		}
		vol := volume.New(cfg.StatefulPath)
		if err := diagnostics.Bundle(out, diagnosticsFiles(vol)); err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

var diagnosticsExtractDir string

var diagnosticsExtractCmd = &cobra.Command{
	Use:   "extract [archive]",
	Short: "Extract a diagnostics archive pulled from a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := diagnosticsExtractDir
		if dir == "" {
			dir = "."
		}
		return diagnostics.Extract(args[0], dir)
	},
}

func init() {
	diagnosticsBundleCmd.Flags().StringVar(&diagnosticsBundleOut, "out", "", "archive output path (default: <stateful path>/hiberman-diagnostics.tar.zst)")
	diagnosticsExtractCmd.Flags().StringVar(&diagnosticsExtractDir, "dir", "", "directory to extract into (default: current directory)")
	diagnosticsCmd.AddCommand(diagnosticsBundleCmd, diagnosticsExtractCmd)
}
