// Package convert runs a whole conversion: it extracts every requested
// category from an export in parallel, derives correlated events, assigns
// tracks, builds the trace and writes it atomically.
package convert

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/arkilian/nsys2chrome/internal/correlate"
	converrors "github.com/arkilian/nsys2chrome/internal/errors"
	"github.com/arkilian/nsys2chrome/internal/export"
	"github.com/arkilian/nsys2chrome/internal/extract"
	"github.com/arkilian/nsys2chrome/internal/log"
	"github.com/arkilian/nsys2chrome/internal/observability"
	"github.com/arkilian/nsys2chrome/internal/storage"
	"github.com/arkilian/nsys2chrome/internal/trace"
	"github.com/arkilian/nsys2chrome/internal/track"
	"github.com/arkilian/nsys2chrome/pkg/types"
)

const defaultWorkers = 4

// Converter holds the knobs shared by every conversion it runs. A Converter
// is safe for concurrent use; each call gets its own export handle, track
// assigner and stats.
type Converter struct {
	logger       zerolog.Logger
	clock        clockwork.Clock
	workers      int
	singleReader bool
	write        trace.WriteOptions
	publisher    storage.Publisher
	prefix       string
}

// Option configures a Converter.
type Option func(*Converter)

// WithLogger sets the logger conversions report to.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Converter) { c.logger = l }
}

// WithClock sets the clock stats are timed with.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Converter) { c.clock = clock }
}

// WithWorkers bounds how many extractors run at once.
func WithWorkers(n int) Option {
	return func(c *Converter) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithSingleReader serializes all reads through one connection.
func WithSingleReader(single bool) Option {
	return func(c *Converter) { c.singleReader = single }
}

// WithWriteOptions sets the envelope and compression of written traces.
func WithWriteOptions(opts trace.WriteOptions) Option {
	return func(c *Converter) { c.write = opts }
}

// WithPublisher uploads every written trace under prefix.
func WithPublisher(p storage.Publisher, prefix string) Option {
	return func(c *Converter) {
		c.publisher = p
		c.prefix = prefix
	}
}

// New creates a Converter.
func New(opts ...Option) *Converter {
	c := &Converter{
		logger:  log.NamedSubLogger("convert"),
		clock:   clockwork.NewRealClock(),
		workers: defaultWorkers,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Output describes the file a conversion wrote.
type Output struct {
	Path   string
	Bytes  int64
	Digest string

	// Published is set when the trace was uploaded
	Published *storage.Object
}

// Result is the outcome of a successful conversion.
type Result struct {
	RunID    string
	Trace    *trace.Trace
	Warnings []types.Warning

	// Counts holds the emitted events per category, metadata excluded
	Counts map[types.Category]int
	Stats  *observability.ConversionStats
	Output Output
}

// Skipped returns the categories that produced a warning, in canonical order.
func (r *Result) Skipped() []types.Category {
	var set types.CategorySet
	for _, w := range r.Warnings {
		set = set.Add(w.Category)
	}
	return set.Slice()
}

// Convert converts the export at inputPath into a trace at outputPath using
// a default Converter.
func Convert(ctx context.Context, inputPath, outputPath string, opts types.ConversionOptions) (*Result, error) {
	return New().Convert(ctx, inputPath, outputPath, opts)
}

// WithExport runs a conversion with a default Converter and hands the
// in-memory result to fn.
func WithExport(ctx context.Context, inputPath string, opts types.ConversionOptions, fn func(*Result) error) error {
	return New().WithExport(ctx, inputPath, opts, fn)
}

// Convert opens the export, runs the conversion and writes the trace
// atomically. Nothing is written when an error is returned, except that a
// failed upload leaves the local trace in place and returns the result
// alongside the error.
func (c *Converter) Convert(ctx context.Context, inputPath, outputPath string, opts types.ConversionOptions) (*Result, error) {
	var res *Result
	err := c.WithExport(ctx, inputPath, opts, func(r *Result) error {
		stop := r.Stats.Stage("write")
		out, err := trace.WriteFile(ctx, outputPath, r.Trace, c.write)
		stop()
		if err != nil {
			return err
		}
		r.Output = Output{Path: out.Path, Bytes: out.Bytes, Digest: out.Digest}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger := c.logger.With().Str(log.RunIDKey, res.RunID).Logger()
	logger.Info().
		Str("path", res.Output.Path).
		Int64("bytes", res.Output.Bytes).
		Str("digest", res.Output.Digest).
		Msg("Trace written")

	if c.publisher == nil {
		return res, nil
	}
	obj, err := c.publish(ctx, res, outputPath, logger)
	if err != nil {
		return res, err
	}
	res.Output.Published = &obj
	logger.Info().Str("key", obj.Key).Str("etag", obj.ETag).Msg("Trace published")
	return res, nil
}

// publish uploads the written trace and checks that the store holds all of
// it. An object that fails the check is removed.
func (c *Converter) publish(ctx context.Context, res *Result, outputPath string, logger zerolog.Logger) (storage.Object, error) {
	stop := res.Stats.Stage("publish")
	defer stop()

	key := storage.ObjectKey(c.prefix, res.RunID, outputPath)
	obj, err := c.publisher.Publish(ctx, outputPath, key)
	if err != nil {
		return storage.Object{}, converrors.NewStorageError(converrors.CodeUploadFailed,
			fmt.Sprintf("publish %s", key), err)
	}

	stored, err := c.publisher.Stat(ctx, key)
	if err == nil && stored.Size == res.Output.Bytes {
		return obj, nil
	}
	if err == nil {
		err = fmt.Errorf("stored %d bytes, wrote %d", stored.Size, res.Output.Bytes)
	}
	if derr := c.publisher.Delete(ctx, key); derr != nil {
		logger.Warn().Err(derr).Str("key", key).Msg("Failed to remove unverified upload")
	}
	return storage.Object{}, converrors.NewStorageError(converrors.CodeUploadFailed,
		fmt.Sprintf("verify %s", key), err)
}

// WithExport opens the export at inputPath, runs the conversion and calls
// fn with the result. The export is closed on every path out.
func (c *Converter) WithExport(ctx context.Context, inputPath string, opts types.ConversionOptions, fn func(*Result) error) (err error) {
	readers := c.workers
	if c.singleReader {
		readers = 1
	}
	ex, err := export.Open(ctx, inputPath, export.WithMaxReaders(readers))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ex.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	res, err := c.Run(ctx, ex, opts)
	if err != nil {
		return err
	}
	return fn(res)
}

// Run converts an already open export into an in-memory trace.
func (c *Converter) Run(ctx context.Context, ex *export.Export, opts types.ConversionOptions) (*Result, error) {
	res := &Result{
		RunID:  uuid.NewString(),
		Counts: make(map[types.Category]int),
		Stats:  observability.NewConversionStats(c.clock),
	}
	logger := c.logger.With().Str(log.RunIDKey, res.RunID).Logger()
	logger.Info().
		Str("export", ex.Path()).
		Str("categories", opts.Categories().String()).
		Bool("flows", opts.IncludeFlows()).
		Msg("Starting conversion")

	plan := newPlan(opts)

	stop := res.Stats.Stage("prepare")
	env, names, err := c.prepare(ctx, ex, logger)
	stop()
	if err != nil {
		return nil, err
	}

	stop = res.Stats.Stage("extract")
	extracted, failures, err := c.extract(ctx, ex, env, plan, res.Stats)
	stop()
	if err != nil {
		return nil, err
	}

	// Warnings only for what the caller asked for; a failed dependency
	// surfaces on the derived category instead.
	for _, cat := range plan.extract {
		if ferr, failed := failures[cat]; failed && opts.Includes(cat) {
			res.warn(cat, warningCode(ferr), ferr.Error())
		}
	}

	var events []types.NormalizedEvent
	for _, cat := range plan.extract {
		if _, failed := failures[cat]; failed || !opts.Includes(cat) {
			continue
		}
		events = append(events, extracted[cat]...)
		res.Counts[cat] = len(extracted[cat])
	}

	stop = res.Stats.Stage("correlate")
	if opts.Includes(types.CategoryNVTXKernel) {
		if missing := plan.missing(failures, types.CategoryNVTX, types.CategoryKernel); len(missing) > 0 {
			res.warn(types.CategoryNVTXKernel, types.WarnDependencyMissing, dependencyMessage(missing))
		} else {
			derived := correlate.Correlate(extracted[types.CategoryNVTX], extracted[types.CategoryKernel], opts.Containment())
			events = append(events, derived...)
			res.Counts[types.CategoryNVTXKernel] = len(derived)
		}
	}
	if opts.IncludeFlows() {
		if missing := plan.missing(failures, types.CategoryCUDAAPI, types.CategoryKernel); len(missing) > 0 {
			res.warn(types.CategoryFlow, types.WarnDependencyMissing, dependencyMessage(missing))
		} else {
			flows := correlate.Flows(extracted[types.CategoryCUDAAPI], extracted[types.CategoryKernel])
			events = append(events, flows...)
			res.Counts[types.CategoryFlow] = len(flows)
		}
	}
	stop()

	for cat, n := range res.Counts {
		res.Stats.RecordEvents(cat, n)
	}
	for _, w := range res.Warnings {
		res.Stats.RecordSkip(w.Category, w.Code)
		logger.Warn().Str(log.CategoryKey, w.Category.String()).Str("code", w.Code).Msg(w.Message)
	}

	stop = res.Stats.Stage("assign")
	assigner := track.New(names)
	assigner.Assign(events)
	tracks := assigner.Tracks()
	stop()

	stop = res.Stats.Stage("build")
	res.Trace = trace.Build(events, tracks, opts)
	stop()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("conversion cancelled: %w", err)
	}

	logger.Info().
		Int("events", len(events)).
		Int64("source_events", res.Stats.TotalEvents()).
		Int("records", res.Trace.Len()).
		Int("tracks", len(tracks)).
		Int("warnings", len(res.Warnings)).
		Dict("categories", categoryFields(res.Stats)).
		Dict("stages", stageFields(res.Stats)).
		Dur("elapsed", res.Stats.Elapsed()).
		Msg("Conversion finished")
	return res, nil
}

func categoryFields(stats *observability.ConversionStats) *zerolog.Event {
	d := zerolog.Dict()
	for _, st := range stats.Categories() {
		cat := zerolog.Dict().Int64("events", st.Events).Dur("elapsed", st.Elapsed)
		if st.Skipped {
			cat = cat.Str("skipped", st.Reason)
		}
		d = d.Dict(st.Category.String(), cat)
	}
	return d
}

func stageFields(stats *observability.ConversionStats) *zerolog.Event {
	d := zerolog.Dict()
	for _, st := range stats.Timings() {
		d = d.Dur(st.Name, st.Elapsed)
	}
	return d
}

// prepare loads the tables every extractor shares. Failures other than
// cancellation only cost names and device attribution.
func (c *Converter) prepare(ctx context.Context, ex *export.Export, logger zerolog.Logger) (extract.Env, track.Names, error) {
	env := extract.Env{Strings: export.StringTable{}}

	strs, err := ex.Strings(ctx)
	if err != nil {
		if cancelled(err) {
			return env, track.Names{}, fmt.Errorf("conversion cancelled: %w", err)
		}
		logger.Warn().Err(err).Msg("String table unreadable; names fall back to defaults")
	} else {
		env.Strings = strs
	}

	devices, err := extract.LoadDeviceMap(ctx, ex)
	if err != nil {
		if cancelled(err) {
			return env, track.Names{}, fmt.Errorf("conversion cancelled: %w", err)
		}
		logger.Warn().Err(err).Msg("Device map unreadable; annotations will not correlate")
	} else {
		env.Devices = devices
	}

	names, err := extract.LoadNames(ctx, ex, env.Strings)
	if err != nil {
		return env, track.Names{}, fmt.Errorf("conversion cancelled: %w", err)
	}
	return env, names, nil
}

// extract runs the planned extractors concurrently. Category-level failures
// are returned per category; cancellation aborts the whole run.
func (c *Converter) extract(ctx context.Context, ex *export.Export, env extract.Env, p plan, stats *observability.ConversionStats) (map[types.Category][]types.NormalizedEvent, map[types.Category]error, error) {
	results := make([][]types.NormalizedEvent, len(p.extract))
	errs := make([]error, len(p.extract))

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(c.workers))

	for i, cat := range p.extract {
		x, ok := extract.For(cat)
		if !ok {
			continue
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		i, cat := i, cat
		g.Go(func() error {
			defer sem.Release(1)
			defer stats.Time(cat)()
			c.logger.Debug().Str(log.CategoryKey, cat.String()).Msg("Extracting")
			events, err := x.Extract(gctx, ex, env, p.opts)
			if err != nil {
				if cancelled(err) {
					return err
				}
				errs[i] = err
				return nil
			}
			results[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("conversion cancelled: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("conversion cancelled: %w", err)
	}

	extracted := make(map[types.Category][]types.NormalizedEvent, len(p.extract))
	failures := make(map[types.Category]error)
	for i, cat := range p.extract {
		if errs[i] != nil {
			failures[cat] = errs[i]
			continue
		}
		extracted[cat] = results[i]
	}
	return extracted, failures, nil
}

func (r *Result) warn(cat types.Category, code, message string) {
	r.Warnings = append(r.Warnings, types.Warning{Category: cat, Code: code, Message: message})
}

// plan is the set of table-backed categories a conversion must read: the
// requested ones plus the inputs of requested derived categories.
type plan struct {
	extract []types.Category
	opts    types.ConversionOptions
}

func newPlan(opts types.ConversionOptions) plan {
	set := types.NewCategorySet()
	for _, cat := range opts.Categories().Slice() {
		if !cat.Derived() {
			set = set.Add(cat)
		}
	}
	if opts.Includes(types.CategoryNVTXKernel) {
		set = set.Add(types.CategoryNVTX).Add(types.CategoryKernel)
	}
	if opts.IncludeFlows() {
		set = set.Add(types.CategoryCUDAAPI).Add(types.CategoryKernel)
	}
	cats := set.Slice()
	return plan{extract: cats, opts: opts.WithCategories(cats...)}
}

// missing returns the dependencies among deps that failed to extract.
func (p plan) missing(failures map[types.Category]error, deps ...types.Category) []types.Category {
	var out []types.Category
	for _, d := range deps {
		if _, failed := failures[d]; failed {
			out = append(out, d)
		}
	}
	return out
}

func dependencyMessage(missing []types.Category) string {
	names := make([]string, len(missing))
	for i, c := range missing {
		names[i] = c.String()
	}
	sort.Strings(names)
	return fmt.Sprintf("requires %v, which could not be extracted", names)
}

// warningCode maps a category-level failure to its warning code.
func warningCode(err error) string {
	switch converrors.GetCode(err) {
	case converrors.CodeTableMissing:
		return types.WarnTableMissing
	case converrors.CodeColumnsMissing, converrors.CodeTypeMismatch:
		return types.WarnSchemaMismatch
	default:
		return types.WarnExtractFailed
	}
}

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
