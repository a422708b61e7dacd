// Package extract maps export tables onto the unified event model. There is
// one extractor per table-backed category; extractors share nothing mutable
// and may run concurrently against the same export handle.
package extract

import (
	"context"
	"errors"
	"fmt"

	converrors "github.com/arkilian/nsys2chrome/internal/errors"
	"github.com/arkilian/nsys2chrome/internal/export"
	"github.com/arkilian/nsys2chrome/pkg/types"
)

// Source tables.
const (
	TableKernel      = "CUPTI_ACTIVITY_KIND_KERNEL"
	TableRuntime     = "CUPTI_ACTIVITY_KIND_RUNTIME"
	TableNVTX        = "NVTX_EVENTS"
	TableOSRT        = "OSRT_API"
	TableSched       = "SCHED_EVENTS"
	TableComposite   = "COMPOSITE_EVENTS"
	TableThreadNames = "ThreadNames"
	TableProcesses   = "PROCESSES"
	TableGPUs        = "TARGET_INFO_GPU"
)

// Env is the read-only context shared by all extractors of one conversion.
type Env struct {
	Strings export.StringTable
	Devices DeviceMap
}

// Device returns the lowest device a process launched kernels on.
func (e Env) Device(pid int64) (int64, bool) {
	ds := e.Devices.Processes[pid]
	if len(ds) == 0 {
		return 0, false
	}
	return ds[0], true
}

// DevicesFor returns the devices a host thread launched kernels on. A thread
// that launched nothing itself inherits every device of its process.
func (e Env) DevicesFor(pid, tid int64) []int64 {
	if ds := e.Devices.Threads[Thread{PID: pid, TID: tid}]; len(ds) > 0 {
		return ds
	}
	return e.Devices.Processes[pid]
}

// Extractor reads one category from an export.
type Extractor interface {
	Category() types.Category
	Table() string
	Extract(ctx context.Context, ex *export.Export, env Env, opts types.ConversionOptions) ([]types.NormalizedEvent, error)
}

var registry = []Extractor{
	kernelExtractor{},
	runtimeExtractor{},
	nvtxExtractor{},
	osrtExtractor{},
	schedExtractor{},
	compositeExtractor{},
}

// All returns every extractor in canonical category order.
func All() []Extractor {
	return append([]Extractor(nil), registry...)
}

// For returns the extractor of a table-backed category.
func For(c types.Category) (Extractor, bool) {
	for _, x := range registry {
		if x.Category() == c {
			return x, true
		}
	}
	return nil, false
}

// columnSet describes the columns one extractor reads.
type columnSet struct {
	table    string
	required []string
	optional []string
}

// scan selects the required columns plus whichever optional ones exist,
// ordered by start, and calls fn per row.
func scan(ctx context.Context, ex *export.Export, s columnSet, fn func(*fields) error) error {
	if !ex.HasTable(s.table) {
		return converrors.NewSchemaError(converrors.CodeTableMissing,
			fmt.Sprintf("table %s not present", s.table))
	}
	opt, err := ex.Present(ctx, s.table, s.optional...)
	if err != nil {
		return err
	}
	cols := make([]string, 0, len(s.required)+len(opt))
	cols = append(cols, s.required...)
	cols = append(cols, opt...)

	_, err = ex.ReadRows(ctx, export.Query{
		Table:   s.table,
		Columns: cols,
		OrderBy: "start",
	}, func(r export.Row) error {
		f := &fields{r: r}
		if err := fn(f); err != nil {
			return err
		}
		return f.err
	})
	return err
}

// classify turns low-level failures into category-level extract errors while
// leaving structured and cancellation errors untouched.
func classify(cat types.Category, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ce *converrors.ConvError
	if errors.As(err, &ce) {
		return err
	}
	return converrors.NewExtractError(fmt.Sprintf("extract %s", cat), err)
}

// fields reads typed values from a row and keeps the first decode error.
type fields struct {
	r   export.Row
	err error
}

func (f *fields) int(col string) (int64, bool) {
	if f.err != nil || !f.r.Has(col) {
		return 0, false
	}
	v, ok, err := f.r.Int(col)
	if err != nil {
		f.err = err
		return 0, false
	}
	return v, ok
}

func (f *fields) str(col string) (string, bool) {
	if f.err != nil || !f.r.Has(col) {
		return "", false
	}
	v, ok, err := f.r.String(col)
	if err != nil {
		f.err = err
		return "", false
	}
	return v, ok
}

// attrInt appends col as an attribute when it is present and non-null.
func (f *fields) attrInt(attrs []types.Attr, col string) []types.Attr {
	if v, ok := f.int(col); ok {
		attrs = append(attrs, types.Attr{Key: col, Value: v})
	}
	return attrs
}

// resolve looks up a string id, falling back to def.
func resolve(strs export.StringTable, id int64, ok bool, def string) string {
	if !ok {
		return def
	}
	if s, found := strs.Lookup(id); found && s != "" {
		return s
	}
	return def
}

// finish normalizes a row and applies the color scheme.
func finish(row types.RawActivityRow, opts types.ConversionOptions) types.NormalizedEvent {
	ev := row.Normalize()
	ev.Color = opts.ColorFor(ev.Category, ev.Name)
	return ev
}
