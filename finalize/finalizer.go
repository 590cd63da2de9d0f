package finalize

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/segmentio/ksuid"
)

// Artifact is the file written for one request. It is never reused.
type Artifact struct {
	Path string
	// Format is what the file was actually encoded as.
	Format Format
	// Fallback is set when the preferred encoder failed and the plain one
	// produced the file.
	Fallback bool
}

func (a *Artifact) Name() string {
	return filepath.Base(a.Path)
}

type Finalizer struct {
	dir string
}

func NewFinalizer(dir string) *Finalizer {
	return &Finalizer{dir: dir}
}

func (f *Finalizer) Dir() string {
	return f.dir
}

// Finalize encodes img into the requested format under the output directory.
// The format is validated before the directory is touched.
func (f *Finalizer) Finalize(ctx context.Context, img image.Image, token string) (*Artifact, error) {
	format, err := ParseFormat(token)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(f.dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	out := flattenForFormat(img, format)
	path := filepath.Join(f.dir, artifactName(token))

	res := f.encode(path, codecs[format], out)
	if res.err != nil {
		return nil, newEncodingError(format, res.err)
	}

	slog.Debug("finalized image", "path", path, "format", format, "fallback", res.fallback)
	return &Artifact{Path: path, Format: format, Fallback: res.fallback}, nil
}

// attempt is the tagged outcome of the two-step encode.
type attempt struct {
	fallback bool
	err      error
}

func (f *Finalizer) encode(path string, c codec, img image.Image) attempt {
	err := writeAtomic(path, c.preferred, img)
	if err == nil {
		return attempt{}
	}
	if c.plain == nil {
		return attempt{err: err}
	}

	slog.Warn("preferred encoder failed, retrying with defaults", "path", path, "error", err)
	if plainErr := writeAtomic(path, c.plain, img); plainErr != nil {
		slog.Debug("plain encoder failed", "path", path, "error", plainErr)
		return attempt{fallback: true, err: err}
	}
	return attempt{fallback: true}
}

// writeAtomic encodes into a temp file next to path and renames it into
// place, so a failed encode never leaves a partial file at path.
func writeAtomic(path string, enc encodeFunc, img image.Image) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = enc(tmp, img); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func artifactName(token string) string {
	return "output_" + ksuid.New().String() + "." + extension(token)
}
