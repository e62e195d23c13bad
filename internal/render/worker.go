package render

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/botserver/internal/scriptbridge"
)

// Queue is the "queue bucket (RPOP-like)" the worker drains.
type Queue interface {
	// Pop blocks until a job is available or ctx is done (BRPOP semantics).
	Pop(ctx context.Context) ([]byte, error)
}

// Publisher is the pub-sub channel progress updates are broadcast on.
type Publisher interface {
	Publish(ctx context.Context, progress Progress) error
}

// ProgressStore persists the job's progress row, the external collaborator
// the worker updates alongside the pub-sub broadcast.
type ProgressStore interface {
	UpdateProgress(ctx context.Context, exportID string, p Progress) error
}

// ObjectStore is the narrow upload surface the worker needs to place
// rendered output (and its thumbnail) at the drive-key shape.
type ObjectStore interface {
	Write(ctx context.Context, key string, data []byte) error
}

// CommandRunner abstracts process execution so tests don't need a real
// ffmpeg binary on PATH.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string) error
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, stderr.String())
	}
	return nil
}

// Worker is the render queue consumer. One Worker drains jobs strictly
// one at a time; run multiple Workers for parallelism.
type Worker struct {
	Queue      Queue
	Publisher  Publisher
	Progress   ProgressStore
	Store      ObjectStore
	Runner     CommandRunner
	FFmpegPath string
	WorkDir    string
}

// NewWorker builds a Worker with ExecRunner as the default CommandRunner.
func NewWorker(queue Queue, pub Publisher, progress ProgressStore, store ObjectStore, ffmpegPath, workDir string) *Worker {
	return &Worker{
		Queue:      queue,
		Publisher:  pub,
		Progress:   progress,
		Store:      store,
		Runner:     ExecRunner{},
		FFmpegPath: ffmpegPath,
		WorkDir:    workDir,
	}
}

// Run pops and processes jobs until ctx is cancelled. A failing job never
// blocks the next.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, err := w.Queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("render: queue pop failed", "error", err)
			continue
		}

		job, err := ParseJob(data)
		if err != nil {
			slog.Error("render: malformed job payload", "error", err)
			continue
		}

		w.process(ctx, job)
	}
}

// process runs one job end to end, reporting 10% -> processing,
// 100% -> completed, or 0% -> failed with the error recorded.
func (w *Worker) process(ctx context.Context, job Job) {
	logger := slog.With("export_id", job.ExportID, "project_id", job.ProjectID, "quality", job.Quality)

	w.report(ctx, Progress{ExportID: job.ExportID, Status: "processing", Percent: 10})

	profile, err := ResolveQuality(job.Quality)
	if err != nil {
		w.fail(ctx, job, err)
		return
	}

	inputPath := filepath.Join(w.WorkDir, job.ProjectID+".src."+job.Format)
	outputPath := filepath.Join(w.WorkDir, job.ExportID+"."+job.Format)

	args, err := BuildFFmpegArgs(inputPath, outputPath, profile)
	if err != nil {
		w.fail(ctx, job, err)
		return
	}

	if err := w.Runner.Run(ctx, w.FFmpegPath, args); err != nil {
		w.fail(ctx, job, err)
		return
	}

	botName := job.BotName
	if botName == "" {
		botName = job.ProjectID
	}
	drivePath := fmt.Sprintf("exports/%s.%s", job.ExportID, job.Format)
	driveKey := scriptbridge.DriveKey(botName, drivePath)

	data, err := os.ReadFile(outputPath)
	if err != nil {
		w.fail(ctx, job, err)
		return
	}
	if err := w.Store.Write(ctx, driveKey, data); err != nil {
		w.fail(ctx, job, err)
		return
	}

	if err := w.generateThumbnail(ctx, botName, job, outputPath); err != nil {
		// Thumbnail failure never blocks completion.
		logger.Warn("render: thumbnail generation failed", "error", err)
	}

	w.report(ctx, Progress{
		ExportID:  job.ExportID,
		Status:    "completed",
		Percent:   100,
		OutputURL: driveKey,
		DrivePath: drivePath,
	})
	logger.Info("render: job completed")
}

// generateThumbnail produces a poster-frame thumbnail from the frame one
// second into the encoded output and uploads it alongside the video under the same
// drive-key shape with a ".thumb.jpg" suffix. Poster-frame extraction
// shells out to ffmpeg (it already owns the decode); imaging
// re-encodes/normalizes the frame.
func (w *Worker) generateThumbnail(ctx context.Context, botName string, job Job, outputPath string) error {
	framePath := outputPath + ".frame.jpg"
	defer os.Remove(framePath)

	args := []string{"-y", "-ss", "00:00:01", "-i", outputPath, "-frames:v", "1", framePath}
	if err := w.Runner.Run(ctx, w.FFmpegPath, args); err != nil {
		return fmt.Errorf("extract poster frame: %w", err)
	}

	img, err := imaging.Open(framePath)
	if err != nil {
		return fmt.Errorf("open poster frame: %w", err)
	}
	thumb := imaging.Fit(img, 480, 270, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}

	drivePath := fmt.Sprintf("exports/%s.thumb.jpg", job.ExportID)
	return w.Store.Write(ctx, scriptbridge.DriveKey(botName, drivePath), buf.Bytes())
}

func (w *Worker) fail(ctx context.Context, job Job, err error) {
	slog.Error("render: job failed", "export_id", job.ExportID, "error", err)
	w.report(ctx, Progress{ExportID: job.ExportID, Status: "failed", Percent: 0, Error: err.Error()})
}

func (w *Worker) report(ctx context.Context, p Progress) {
	if w.Progress != nil {
		if err := w.Progress.UpdateProgress(ctx, p.ExportID, p); err != nil {
			slog.Error("render: progress row update failed", "export_id", p.ExportID, "error", err)
		}
	}
	if w.Publisher != nil {
		if err := w.Publisher.Publish(ctx, p); err != nil {
			slog.Error("render: progress publish failed", "export_id", p.ExportID, "error", err)
		}
	}
}
