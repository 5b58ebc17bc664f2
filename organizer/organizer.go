// Package organizer files staged downloads into root/course/section/name.
package organizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/aluiziolira/go-fenix-files/logging"
	"github.com/aluiziolira/go-fenix-files/models"
	"github.com/aluiziolira/go-fenix-files/parser"
)

// Outcome labels passed to a Recorder.
const (
	OutcomeFiled     = "filed"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Recorder receives one outcome per staged file.
type Recorder interface {
	IncFiled(outcome string)
}

// Option configures an Organizer.
type Option func(*Organizer)

// WithLogger sets the organizer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Organizer) {
		o.logger = logger
	}
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Organizer) {
		o.recorder = r
	}
}

// Organizer moves or copies staged files into the organized tree. It never
// overwrites a file already in the tree, so repeated runs are idempotent.
type Organizer struct {
	logger   *slog.Logger
	recorder Recorder
}

// New builds an Organizer.
func New(opts ...Option) *Organizer {
	o := &Organizer{}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.OrDefault(o.logger)
	return o
}

// Organize runs a default Organizer over stagingDir.
func Organize(ctx context.Context, stagingDir, targetRoot string, keepCopy bool) (*models.OrganizeReport, error) {
	return New().Organize(ctx, stagingDir, targetRoot, keepCopy)
}

// Organize files every regular entry of stagingDir. Only an unreadable
// staging directory or target root is returned as an error; per-file
// failures are collected in the report.
func (o *Organizer) Organize(ctx context.Context, stagingDir, targetRoot string, keepCopy bool) (*models.OrganizeReport, error) {
	for _, dir := range []string{stagingDir, targetRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		return nil, fmt.Errorf("read staging directory %q: %w", stagingDir, err)
	}

	report := &models.OrganizeReport{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.Type().IsRegular() {
			continue
		}

		rel, err := o.file(stagingDir, targetRoot, entry.Name(), keepCopy)
		switch {
		case err != nil:
			report.Failed++
			report.Errors = append(report.Errors, err)
			o.record(OutcomeFailed)
			o.logger.Error("could not file staged entry", slog.String("name", entry.Name()), slog.Any("error", err))
		case rel == "":
			report.Duplicates++
			o.record(OutcomeDuplicate)
		default:
			report.Filed++
			report.FiledPaths = append(report.FiledPaths, rel)
			o.record(OutcomeFiled)
		}
	}

	logging.Stats(ctx, o.logger, "Number of files organized",
		slog.Int("filed", report.Filed),
		slog.Int("duplicates", report.Duplicates),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

// file places one staged file. It returns the tree-relative path when the
// file was newly filed and "" for a duplicate.
func (o *Organizer) file(stagingDir, targetRoot, name string, keepCopy bool) (string, error) {
	parts, err := parser.ParseStagedName(name)
	if err != nil {
		return "", &FilingError{Kind: KindMalformedStagedName, Name: name, Err: err}
	}

	destDir := filepath.Join(targetRoot, parts.Course, parts.Section)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", &FilingError{Kind: KindFilesystemFailure, Name: name, Err: err}
	}

	src := filepath.Join(stagingDir, name)
	dest := filepath.Join(destDir, parts.OriginalName)
	if _, err := os.Lstat(dest); err == nil {
		o.logger.Debug("File already exists", slog.String("path", dest))
		return "", nil
	}

	verb := "Moved"
	if keepCopy {
		verb = "Copied"
		err = copyExclusive(src, dest)
	} else {
		err = move(src, dest)
	}
	if errors.Is(err, fs.ErrExist) {
		o.logger.Debug("File already exists", slog.String("path", dest))
		return "", nil
	}
	if err != nil {
		return "", &FilingError{Kind: KindFilesystemFailure, Name: name, Err: err}
	}

	o.logger.Debug(fmt.Sprintf("%s %s to %s/%s", verb, parts.OriginalName, parts.Course, parts.Section))
	return path.Join(parts.Course, parts.Section, parts.OriginalName), nil
}

func (o *Organizer) record(outcome string) {
	if o.recorder != nil {
		o.recorder.IncFiled(outcome)
	}
}

// move links src into place and drops the staged name. Without hard link
// support it falls back to an exclusive copy.
func move(src, dest string) error {
	err := os.Link(src, dest)
	if errors.Is(err, fs.ErrExist) {
		return err
	}
	if err != nil {
		if err := copyExclusive(src, dest); err != nil {
			return err
		}
	}
	return os.Remove(src)
}

// copyExclusive copies src to dest, failing with fs.ErrExist if dest exists.
func copyExclusive(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dest)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
