// Package hibertypes holds the data model shared across the hibernate
// suspend pipeline: options, on-disk metadata, the resume cookie, and the
// typed errors the conductor returns.
package hibertypes

// Options are the per-attempt, immutable flags passed into Hibernate.
// Recognized fields are listed below; unrecognized fields are forward
// compatible and ignored by the core.
type Options struct {
	// DryRun skips the final power-off syscall so the suspend path runs to
	// completion but the machine stays up. Used for integration testing the
	// pipeline without actually hibernating.
	DryRun bool
}
