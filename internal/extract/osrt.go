package extract

import (
	"context"

	"github.com/arkilian/nsys2chrome/internal/export"
	"github.com/arkilian/nsys2chrome/pkg/types"
)

var osrtCols = columnSet{
	table:    TableOSRT,
	required: []string{"start", "end", "globalTid", "nameId"},
	optional: []string{"returnValue", "nestingLevel"},
}

// osrtExtractor reads OS runtime library calls onto host thread lanes.
type osrtExtractor struct{}

func (osrtExtractor) Category() types.Category { return types.CategoryOSRT }
func (osrtExtractor) Table() string            { return TableOSRT }

func (osrtExtractor) Extract(ctx context.Context, ex *export.Export, env Env, opts types.ConversionOptions) ([]types.NormalizedEvent, error) {
	if !opts.Includes(types.CategoryOSRT) {
		return nil, nil
	}

	var out []types.NormalizedEvent
	err := scan(ctx, ex, osrtCols, func(f *fields) error {
		start, _ := f.int("start")
		end, hasEnd := f.int("end")
		gtid, _ := f.int("globalTid")
		nameID, hasName := f.int("nameId")
		pid, tid := export.DecomposeGlobalID(gtid)

		var attrs []types.Attr
		attrs = f.attrInt(attrs, "returnValue")
		attrs = f.attrInt(attrs, "nestingLevel")

		out = append(out, finish(types.RawActivityRow{
			Category: types.CategoryOSRT,
			Name:     resolve(env.Strings, nameID, hasName, "Unknown OS API"),
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
		return nil, classify(types.CategoryOSRT, err)
	}
	return out, nil
}
