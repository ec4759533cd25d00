// Package generate assembles override sets from presets, source files and the
// catalog, and writes them out as prefs files.
package generate

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	xlog "github.com/kalambet/prefgen/internal/log"
	"github.com/kalambet/prefgen/internal/prefs"
	"github.com/kalambet/prefgen/internal/presets"
	"github.com/kalambet/prefgen/internal/source"
	"github.com/kalambet/prefgen/internal/storage"
)

// ErrDrift is returned by CheckAll when a target's file differs from what
// would be generated.
var ErrDrift = errors.New("generated file is out of date")

// Catalog is the subset of the store the generator needs.
type Catalog interface {
	ListOverrides(ctx context.Context, profile string) (prefs.Set, error)
	RecordGeneration(ctx context.Context, g storage.Generation) (storage.Generation, error)
}

// Target is one output file and the inputs merged into it. Inputs apply in
// order presets, sources, profile; later values win.
type Target struct {
	Name     string
	Output   string
	Header   string
	Presets  []string
	Sources  []string
	Profile  string
	SortKeys bool
}

// TargetFromSpec converts a manifest entry.
func TargetFromSpec(s source.TargetSpec) Target {
	return Target{
		Name:     s.Name,
		Output:   s.Output,
		Header:   s.Header,
		Presets:  s.Presets,
		Sources:  s.Sources,
		Profile:  s.Profile,
		SortKeys: s.SortKeys,
	}
}

func (t Target) label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Output
}

// Result describes the outcome of writing or checking one target.
type Result struct {
	Target    string
	Path      string
	Changed   bool
	Digest    string
	Bytes     int
	Overrides int
}

// Generator builds and writes targets. A nil catalog disables profile lookups
// and generation history.
type Generator struct {
	catalog Catalog
	logger  zerolog.Logger
}

// New returns a Generator backed by catalog, which may be nil.
func New(catalog Catalog) *Generator {
	return &Generator{catalog: catalog, logger: xlog.WithComponent("generate")}
}

// Build merges the target's inputs into one set and returns it with the
// effective header. The first non-empty header among target, presets and
// sources is used.
func (g *Generator) Build(ctx context.Context, t Target) (prefs.Set, string, error) {
	var set prefs.Set
	header := t.Header

	for _, name := range t.Presets {
		p, ok := presets.Get(name)
		if !ok {
			return prefs.Set{}, "", fmt.Errorf("unknown preset %q", name)
		}
		set.Merge(p.Set())
		if header == "" {
			header = p.Header
		}
	}

	for _, path := range t.Sources {
		doc, err := source.LoadFile(path)
		if err != nil {
			return prefs.Set{}, "", err
		}
		set.Merge(doc.Set)
		if header == "" {
			header = doc.Header
		}
	}

	if t.Profile != "" {
		if g.catalog == nil {
			return prefs.Set{}, "", fmt.Errorf("profile %q requested but no catalog is open", t.Profile)
		}
		stored, err := g.catalog.ListOverrides(ctx, t.Profile)
		if err != nil {
			return prefs.Set{}, "", fmt.Errorf("loading profile %q: %w", t.Profile, err)
		}
		set.Merge(stored)
	}

	return set, header, nil
}

// Render returns the bytes the target's file should contain.
func (g *Generator) Render(ctx context.Context, t Target) ([]byte, int, error) {
	set, header, err := g.Build(ctx, t)
	if err != nil {
		return nil, 0, err
	}
	out, err := prefs.RenderBytes(set, prefs.RenderOptions{Header: header, SortKeys: t.SortKeys})
	if err != nil {
		return nil, 0, fmt.Errorf("rendering %s: %w", t.label(), err)
	}
	return out, set.Len(), nil
}

// Write renders t and replaces its output file atomically. An output that
// already holds identical bytes is left untouched and reported unchanged.
func (g *Generator) Write(ctx context.Context, t Target) (Result, error) {
	if t.Output == "" {
		return Result{}, fmt.Errorf("target %s has no output path", t.label())
	}
	logger := g.logger.With().Str("target", t.label()).Str("path", t.Output).Logger()

	data, n, err := g.Render(ctx, t)
	if err != nil {
		return Result{}, err
	}
	res := Result{Target: t.label(), Path: t.Output, Digest: digest(data), Bytes: len(data), Overrides: n}

	current, err := os.ReadFile(t.Output)
	if err == nil && bytes.Equal(current, data) {
		logger.Debug().Str("event", "generate.unchanged").Msg("prefs file up to date")
		return res, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Result{}, fmt.Errorf("reading %s: %w", t.Output, err)
	}

	if err := writeAtomic(ctx, t.Output, data); err != nil {
		return Result{}, err
	}
	res.Changed = true

	if g.catalog != nil {
		if _, err := g.catalog.RecordGeneration(ctx, storage.Generation{
			Target:    res.Target,
			Profile:   t.Profile,
			Path:      t.Output,
			Digest:    res.Digest,
			Bytes:     res.Bytes,
			Overrides: res.Overrides,
		}); err != nil {
			logger.Warn().Err(err).Msg("could not record generation")
		}
	}

	logger.Info().
		Str("event", "generate.write").
		Int("overrides", n).
		Str("digest", res.Digest[:12]).
		Msg("wrote prefs file")
	return res, nil
}

// Check reports whether t's output differs from what Write would produce. A
// missing file counts as changed.
func (g *Generator) Check(ctx context.Context, t Target) (Result, error) {
	data, n, err := g.Render(ctx, t)
	if err != nil {
		return Result{}, err
	}
	res := Result{Target: t.label(), Path: t.Output, Digest: digest(data), Bytes: len(data), Overrides: n}
	current, err := os.ReadFile(t.Output)
	switch {
	case errors.Is(err, os.ErrNotExist):
		res.Changed = true
	case err != nil:
		return Result{}, fmt.Errorf("reading %s: %w", t.Output, err)
	default:
		res.Changed = !bytes.Equal(current, data)
	}
	return res, nil
}

// WriteAll writes targets with at most concurrency in flight. Results are in
// input order. The first error cancels the remaining targets.
func (g *Generator) WriteAll(ctx context.Context, targets []Target, concurrency int) ([]Result, error) {
	return g.each(ctx, targets, concurrency, g.Write)
}

// CheckAll checks every target and returns ErrDrift if any has changed.
func (g *Generator) CheckAll(ctx context.Context, targets []Target, concurrency int) ([]Result, error) {
	results, err := g.each(ctx, targets, concurrency, g.Check)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Changed {
			return results, ErrDrift
		}
	}
	return results, nil
}

func (g *Generator) each(ctx context.Context, targets []Target, concurrency int, fn func(context.Context, Target) (Result, error)) ([]Result, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]Result, len(targets))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for i, t := range targets {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := fn(ctx, t)
			if err != nil {
				return fmt.Errorf("%s: %w", t.label(), err)
			}
			results[i] = r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// writeAtomic replaces path with data using a pending file, so readers never
// see a partially written prefs file.
func writeAtomic(ctx context.Context, path string, data []byte) error {
	logger := xlog.FromContext(ctx)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending prefs file: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending prefs file")
		}
	}()

	if _, err := pendingFile.Write(data); err != nil {
		return fmt.Errorf("write prefs data: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace prefs file: %w", err)
	}
	return nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
