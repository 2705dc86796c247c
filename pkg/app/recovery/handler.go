package recovery

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/efm6988/ntfs-forensic-recovery/internal/device"
	"github.com/efm6988/ntfs-forensic-recovery/internal/interfaces"
	"github.com/efm6988/ntfs-forensic-recovery/internal/providers/ntfs"
	"github.com/efm6988/ntfs-forensic-recovery/internal/services"
	"github.com/efm6988/ntfs-forensic-recovery/pkg/app"
)

// eventBuffer bounds how far the worker may run ahead of the controller.
const eventBuffer = 256

// openProvider builds the metadata provider for a volume. Tests replace it.
var openProvider = func(r io.ReaderAt, offset int64) (interfaces.MetadataProvider, error) {
	p, err := ntfs.Open(r, offset)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Handle processes a recovery request: it opens the source, runs the
// pipeline on a background worker and relays its events to the context's
// logger and progress callback until the run completes.
func Handle(ctx *app.Context, req *Request) (*Response, error) {
	startTime := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	cfg := req.Config

	img, err := device.Open(req.SourcePath, &cfg.Device, ctx.Logger)
	if err != nil {
		code := app.ErrCodeSourceUnreadable
		if errors.Is(err, fs.ErrPermission) {
			code = app.ErrCodePermission
		}
		return nil, app.NewError(code, "cannot open source "+req.SourcePath, err)
	}
	defer img.Close()

	offset, method := img.VolumeOffset()
	source := SourceInfo{
		Path:            img.Path(),
		SizeBytes:       img.Size(),
		VolumeOffset:    offset,
		DetectionMethod: method,
	}

	var provider interfaces.MetadataProvider
	if cfg.Recover.RecoverEntries || cfg.Recover.ExtractJournal {
		provider, err = openProvider(img, offset)
		if err != nil {
			ctx.Log(logrus.Fields{"source": req.SourcePath, "offset": offset}).
				WithError(err).Warn("filesystem metadata unreadable, continuing without it")
			provider = nil
		}
	}
	source.MetadataAvailable = provider != nil

	signatures, err := cfg.SelectedSignatures()
	if err != nil {
		return nil, app.NewError(app.ErrCodeInvalidInput, "invalid signature selection", err)
	}

	orchestrator := services.NewOrchestrator(services.OrchestratorConfig{
		ChunkSize:      cfg.Reassembly.ChunkSize,
		MaxCarveSize:   cfg.Carving.MaxSize,
		MaxExtractSize: cfg.Carving.MaxExtractSize,
		Signatures:     signatures,
		Hash:           cfg.Hash,
	})
	runReq := services.RunRequest{
		Provider:    provider,
		Image:       img,
		Destination: cfg.Destination,
		Options:     cfg.Recover,
	}

	events := make(chan services.Event, eventBuffer)
	sink := func(ev services.Event) { events <- ev }

	runner := services.NewRunner()
	handle := runner.Submit(ctx, func(runCtx context.Context) (*services.Report, error) {
		defer close(events)
		return orchestrator.Run(runCtx, runReq, sink)
	})

	relay := newEventRelay(ctx)
	for ev := range events {
		relay.handle(ev)
	}

	report, err := handle.Wait()
	runner.Shutdown()
	source.Mapped = img.Stats().Mapped

	if err != nil {
		return nil, runError(ctx, err)
	}

	return &Response{
		Source:   source,
		Report:   report,
		Elapsed:  time.Since(startTime),
		Warnings: len(report.Warnings),
	}, nil
}

func runError(ctx *app.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return app.NewError(app.ErrCodeCancelled, "recovery cancelled", err)
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return app.NewError(app.ErrCodeDestination, "destination not writable", err)
	}
	return app.NewError(app.ErrCodeRecoveryFailed, "recovery failed", err)
}

// eventRelay renders worker events on the controller side.
type eventRelay struct {
	ctx     *app.Context
	started time.Time
}

func newEventRelay(ctx *app.Context) *eventRelay {
	return &eventRelay{ctx: ctx, started: time.Now()}
}

func (r *eventRelay) handle(ev services.Event) {
	fields := logrus.Fields{"run_id": ev.RunID, "stage": string(ev.Stage)}

	switch ev.Kind {
	case services.EventLog:
		r.ctx.Log(fields).Log(ev.Level, ev.Message)
	case services.EventProgress:
		r.ctx.Progress(app.ProgressUpdate{
			Message:     "Scanning MFT records",
			Completed:   int64(ev.Fraction * 1000),
			Total:       1000,
			StartedAt:   r.started,
			ElapsedTime: ev.Time.Sub(r.started),
		})
	case services.EventMilestone:
		fields["count"] = ev.Count
		r.ctx.Log(fields).Debug("milestone")
	case services.EventComplete:
		fields["status"] = ev.Status.String()
		r.ctx.Log(fields).Info(ev.Message)
	}
}
