package extract

import (
	"context"
	"errors"
	"strings"

	"github.com/arkilian/nsys2chrome/internal/export"
	"github.com/arkilian/nsys2chrome/internal/track"
	"github.com/arkilian/nsys2chrome/pkg/types"
)

// LoadNames reads the thread, process and device name tables. Each table is
// optional; a missing or malformed one leaves its map empty.
func LoadNames(ctx context.Context, ex *export.Export, strs export.StringTable) (track.Names, error) {
	names := track.Names{
		Processes: make(map[int64]string),
		Threads:   make(map[types.TrackKey]string),
		Devices:   make(map[int64]string),
	}

	err := optional(ex.ReadRows(ctx, export.Query{
		Table:   TableThreadNames,
		Columns: []string{"nameId", "globalTid"},
	}, func(r export.Row) error {
		id, ok, err := r.Int("nameId")
		if err != nil || !ok {
			return err
		}
		gtid, ok, err := r.Int("globalTid")
		if err != nil || !ok {
			return err
		}
		if name, found := strs.Lookup(id); found && name != "" {
			pid, tid := export.DecomposeGlobalID(gtid)
			names.Threads[types.ThreadKey(pid, tid)] = name
		}
		return nil
	}))
	if err != nil {
		return names, err
	}

	err = optional(ex.ReadRows(ctx, export.Query{
		Table:   TableProcesses,
		Columns: []string{"pid", "name"},
	}, func(r export.Row) error {
		pid, ok, err := r.Int("pid")
		if err != nil || !ok {
			return err
		}
		name, ok, err := r.String("name")
		if err != nil || !ok {
			return err
		}
		if name = strings.TrimSpace(name); name != "" {
			names.Processes[pid] = name
		}
		return nil
	}))
	if err != nil {
		return names, err
	}

	err = optional(ex.ReadRows(ctx, export.Query{
		Table:   TableGPUs,
		Columns: []string{"id", "name"},
	}, func(r export.Row) error {
		id, ok, err := r.Int("id")
		if err != nil || !ok {
			return err
		}
		name, ok, err := r.String("name")
		if err != nil || !ok {
			return err
		}
		names.Devices[id] = name
		return nil
	}))
	return names, err
}

// optional drops everything but cancellation so that an absent or
// malformed name table only costs display names.
func optional(_ int, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
