package recovery

import (
	"path/filepath"

	"github.com/efm6988/ntfs-forensic-recovery/pkg/app"
)

// Validate validates a recovery request
func (r *Request) Validate() error {
	if r.SourcePath == "" {
		return app.NewError(app.ErrCodeInvalidInput, "source path is required", nil)
	}
	if r.Config == nil {
		return app.NewError(app.ErrCodeInvalidInput, "configuration is required", nil)
	}
	if r.Config.Destination == "" {
		return app.NewError(app.ErrCodeInvalidInput, "destination directory is required", nil)
	}
	if filepath.Clean(r.Config.Destination) == filepath.Clean(r.SourcePath) {
		return app.NewError(app.ErrCodeInvalidInput, "destination must differ from source", nil)
	}

	opts := r.Config.Recover
	if !opts.RecoverEntries && !opts.ExtractJournal && !opts.EnableCarving {
		return app.NewError(app.ErrCodeInvalidInput, "nothing to do: enable entries, journal or carving", nil)
	}

	if err := r.Config.Validate(); err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid configuration", err)
	}
	return nil
}
