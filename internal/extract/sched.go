package extract

import (
	"context"

	"github.com/arkilian/nsys2chrome/internal/export"
	"github.com/arkilian/nsys2chrome/pkg/types"
)

var schedCols = columnSet{
	table:    TableSched,
	required: []string{"start", "globalTid"},
	optional: []string{"end", "cpu", "isSchedIn", "threadState"},
}

var compositeCols = columnSet{
	table:    TableComposite,
	required: []string{"start", "globalTid"},
	optional: []string{"cpu", "threadState", "cpuCycles"},
}

// schedExtractor reads thread scheduling transitions.
type schedExtractor struct{}

func (schedExtractor) Category() types.Category { return types.CategorySched }
func (schedExtractor) Table() string            { return TableSched }

func (schedExtractor) Extract(ctx context.Context, ex *export.Export, env Env, opts types.ConversionOptions) ([]types.NormalizedEvent, error) {
	if !opts.Includes(types.CategorySched) {
		return nil, nil
	}

	var out []types.NormalizedEvent
	err := scan(ctx, ex, schedCols, func(f *fields) error {
		start, _ := f.int("start")
		end, hasEnd := f.int("end")
		gtid, _ := f.int("globalTid")
		pid, tid := export.DecomposeGlobalID(gtid)

		name := "sched"
		if in, ok := f.int("isSchedIn"); ok {
			name = "sched_out"
			if in != 0 {
				name = "sched_in"
			}
		}
		var attrs []types.Attr
		attrs = f.attrInt(attrs, "cpu")
		attrs = f.attrInt(attrs, "threadState")

		out = append(out, finish(types.RawActivityRow{
			Category: types.CategorySched,
			Name:     name,
			Start:    start,
			End:      end,
			HasEnd:   hasEnd,
			Attrs:    attrs,
			PID:      pid,
			TID:      tid,
		}, opts))
		return nil
	})
	if err != nil {
		return nil, classify(types.CategorySched, err)
	}
	return out, nil
}

// compositeExtractor reads composite CPU samples as instants.
type compositeExtractor struct{}

func (compositeExtractor) Category() types.Category { return types.CategoryComposite }
func (compositeExtractor) Table() string            { return TableComposite }

func (compositeExtractor) Extract(ctx context.Context, ex *export.Export, env Env, opts types.ConversionOptions) ([]types.NormalizedEvent, error) {
	if !opts.Includes(types.CategoryComposite) {
		return nil, nil
	}

	var out []types.NormalizedEvent
	err := scan(ctx, ex, compositeCols, func(f *fields) error {
		start, _ := f.int("start")
		gtid, _ := f.int("globalTid")
		pid, tid := export.DecomposeGlobalID(gtid)

		var attrs []types.Attr
		attrs = f.attrInt(attrs, "cpu")
		attrs = f.attrInt(attrs, "threadState")
		attrs = f.attrInt(attrs, "cpuCycles")

		out = append(out, finish(types.RawActivityRow{
			Category: types.CategoryComposite,
			Name:     "cpu_sample",
			Start:    start,
			Attrs:    attrs,
			PID:      pid,
			TID:      tid,
		}, opts))
		return nil
	})
	if err != nil {
		return nil, classify(types.CategoryComposite, err)
	}
	return out, nil
}
