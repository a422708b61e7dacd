// Package exporttest builds synthetic Nsight Systems exports for tests. The
// tables follow the column layout of real exports so that the same queries
// run against fixtures and captured profiles.
package exporttest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// Table names as they appear in exports.
const (
	TableStrings     = "StringIds"
	TableKernel      = "CUPTI_ACTIVITY_KIND_KERNEL"
	TableRuntime     = "CUPTI_ACTIVITY_KIND_RUNTIME"
	TableNVTX        = "NVTX_EVENTS"
	TableOSRT        = "OSRT_API"
	TableSched       = "SCHED_EVENTS"
	TableComposite   = "COMPOSITE_EVENTS"
	TableThreadNames = "ThreadNames"
	TableProcesses   = "PROCESSES"
	TableGPUs        = "TARGET_INFO_GPU"
	TableMeta        = "META_DATA_EXPORT"
)

// NVTX event types.
const (
	NVTXMark         = 34
	NVTXPushPop      = 59
	NVTXStartEnd     = 60
	NVTXDomainCreate = 75
)

var ddl = map[string]string{
	TableStrings: `CREATE TABLE StringIds (id INTEGER NOT NULL PRIMARY KEY, value TEXT NOT NULL)`,
	TableKernel: `CREATE TABLE CUPTI_ACTIVITY_KIND_KERNEL (
		start INTEGER NOT NULL, end INTEGER NOT NULL, deviceId INTEGER NOT NULL,
		contextId INTEGER, streamId INTEGER NOT NULL, correlationId INTEGER,
		globalPid INTEGER, demangledName INTEGER NOT NULL, shortName INTEGER NOT NULL,
		gridX INTEGER, gridY INTEGER, gridZ INTEGER,
		blockX INTEGER, blockY INTEGER, blockZ INTEGER,
		registersPerThread INTEGER, staticSharedMemory INTEGER, dynamicSharedMemory INTEGER)`,
	TableRuntime: `CREATE TABLE CUPTI_ACTIVITY_KIND_RUNTIME (
		start INTEGER NOT NULL, end INTEGER NOT NULL, eventClass INTEGER,
		globalTid INTEGER, correlationId INTEGER, nameId INTEGER NOT NULL, returnValue INTEGER)`,
	TableNVTX: `CREATE TABLE NVTX_EVENTS (
		start INTEGER NOT NULL, end INTEGER, eventType INTEGER NOT NULL, rangeId INTEGER,
		category INTEGER, color INTEGER, text TEXT, globalTid INTEGER, endGlobalTid INTEGER,
		textId INTEGER, domainId INTEGER)`,
	TableOSRT: `CREATE TABLE OSRT_API (
		start INTEGER NOT NULL, end INTEGER, eventClass INTEGER, globalTid INTEGER,
		nameId INTEGER NOT NULL, returnValue INTEGER, nestingLevel INTEGER, callchainId INTEGER)`,
	TableSched: `CREATE TABLE SCHED_EVENTS (
		start INTEGER NOT NULL, cpu INTEGER, isSchedIn INTEGER, globalTid INTEGER,
		threadState INTEGER, threadBlock INTEGER)`,
	TableComposite: `CREATE TABLE COMPOSITE_EVENTS (
		id INTEGER PRIMARY KEY, start INTEGER NOT NULL, globalTid INTEGER, cpu INTEGER,
		threadState INTEGER, cpuCycles INTEGER)`,
	TableThreadNames: `CREATE TABLE ThreadNames (nameId INTEGER NOT NULL, globalTid INTEGER, priority INTEGER)`,
	TableProcesses:   `CREATE TABLE PROCESSES (globalPid INTEGER, pid INTEGER, name TEXT)`,
	TableGPUs:        `CREATE TABLE TARGET_INFO_GPU (id INTEGER NOT NULL, name TEXT, busLocation TEXT)`,
	TableMeta:        `CREATE TABLE META_DATA_EXPORT (name TEXT, value TEXT)`,
}

// tableOrder fixes creation order so fixtures are byte-stable.
var tableOrder = []string{
	TableMeta, TableStrings, TableKernel, TableRuntime, TableNVTX, TableOSRT,
	TableSched, TableComposite, TableThreadNames, TableProcesses, TableGPUs,
}

// Kernel is one CUPTI kernel row.
type Kernel struct {
	Start, End    int64
	Device        int64
	Stream        int64
	Correlation   int64
	PID           int64
	Name          string
	Demangled     string
	Grid, Block   [3]int64
	Registers     int64
	StaticShared  int64
	DynamicShared int64
}

// Runtime is one CUDA runtime API row.
type Runtime struct {
	Start, End  int64
	PID, TID    int64
	Correlation int64
	Name        string
	Return      int64
}

// NVTX is one annotation row. Mark rows are written with a NULL end.
type NVTX struct {
	Start, End int64
	Type       int64
	Text       string
	// Interned stores the text through textId instead of the text column
	Interned bool
	PID, TID int64
	// Color is an ARGB value; zero writes NULL
	Color  int64
	Domain int64
}

// OSRT is one OS runtime call row. Open leaves the end NULL.
type OSRT struct {
	Start, End int64
	Open       bool
	PID, TID   int64
	Name       string
	Return     int64
	Nesting    int64
}

// Sched is one scheduler row.
type Sched struct {
	Start    int64
	PID, TID int64
	CPU      int64
	In       bool
	State    int64
}

// Composite is one composite sampling row.
type Composite struct {
	Start    int64
	PID, TID int64
	CPU      int64
	State    int64
	Cycles   int64
}

// ThreadName names one host thread.
type ThreadName struct {
	PID, TID int64
	Name     string
}

// Process names one process.
type Process struct {
	PID  int64
	Name string
}

// GPU names one device.
type GPU struct {
	ID   int64
	Name string
}

// Fixture describes a synthetic export. Every known table is created, even
// when it has no rows, except those listed in Omit.
type Fixture struct {
	SchemaVersion string
	Kernels       []Kernel
	Runtime       []Runtime
	NVTX          []NVTX
	OSRT          []OSRT
	Sched         []Sched
	Composite     []Composite
	ThreadNames   []ThreadName
	Processes     []Process
	GPUs          []GPU
	Omit          []string
}

// GlobalTID packs a pid and tid the way exports do.
func GlobalTID(pid, tid int64) int64 {
	return pid<<24 | tid
}

// GlobalPID packs a pid the way exports do.
func GlobalPID(pid int64) int64 {
	return pid << 24
}

// Path writes fx into a temporary directory owned by t and returns the file path.
func Path(t testing.TB, fx Fixture) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.sqlite")
	if err := Write(context.Background(), path, fx); err != nil {
		t.Fatalf("exporttest: %v", err)
	}
	return path
}

// Write creates a new export file at path.
func Write(ctx context.Context, path string, fx Fixture) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("exporttest: failed to create directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("exporttest: failed to replace %s: %w", path, err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("exporttest: failed to create SQLite database: %w", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("exporttest: failed to begin: %w", err)
	}
	defer tx.Rollback()

	w := &writer{ctx: ctx, tx: tx, ids: make(map[string]int64)}
	omit := make(map[string]bool, len(fx.Omit))
	for _, t := range fx.Omit {
		omit[t] = true
	}
	for _, table := range tableOrder {
		if omit[table] || (table == TableMeta && fx.SchemaVersion == "") {
			continue
		}
		if _, err := tx.ExecContext(ctx, ddl[table]); err != nil {
			return fmt.Errorf("exporttest: failed to create %s: %w", table, err)
		}
	}

	if !omit[TableMeta] && fx.SchemaVersion != "" {
		w.insert(TableMeta, []any{"EXPORT_SCHEMA_VERSION", fx.SchemaVersion})
	}
	if !omit[TableKernel] {
		for _, k := range fx.Kernels {
			demangled := k.Demangled
			if demangled == "" {
				demangled = k.Name
			}
			w.insert(TableKernel, []any{
				k.Start, k.End, k.Device, 1, k.Stream, k.Correlation, GlobalPID(k.PID),
				w.intern(demangled), w.intern(k.Name),
				k.Grid[0], k.Grid[1], k.Grid[2], k.Block[0], k.Block[1], k.Block[2],
				k.Registers, k.StaticShared, k.DynamicShared,
			})
		}
	}
	if !omit[TableRuntime] {
		for _, r := range fx.Runtime {
			w.insert(TableRuntime, []any{
				r.Start, r.End, 1, GlobalTID(r.PID, r.TID), r.Correlation, w.intern(r.Name), r.Return,
			})
		}
	}
	if !omit[TableNVTX] {
		for _, n := range fx.NVTX {
			w.insert(TableNVTX, w.nvtxRow(n))
		}
	}
	if !omit[TableOSRT] {
		for _, o := range fx.OSRT {
			var end any = o.End
			if o.Open {
				end = nil
			}
			w.insert(TableOSRT, []any{
				o.Start, end, 27, GlobalTID(o.PID, o.TID), w.intern(o.Name), o.Return, o.Nesting, nil,
			})
		}
	}
	if !omit[TableSched] {
		for _, s := range fx.Sched {
			in := 0
			if s.In {
				in = 1
			}
			w.insert(TableSched, []any{s.Start, s.CPU, in, GlobalTID(s.PID, s.TID), s.State, nil})
		}
	}
	if !omit[TableComposite] {
		for i, c := range fx.Composite {
			w.insert(TableComposite, []any{i + 1, c.Start, GlobalTID(c.PID, c.TID), c.CPU, c.State, c.Cycles})
		}
	}
	if !omit[TableThreadNames] {
		for _, tn := range fx.ThreadNames {
			w.insert(TableThreadNames, []any{w.intern(tn.Name), GlobalTID(tn.PID, tn.TID), 0})
		}
	}
	if !omit[TableProcesses] {
		for _, p := range fx.Processes {
			w.insert(TableProcesses, []any{GlobalPID(p.PID), p.PID, p.Name})
		}
	}
	if !omit[TableGPUs] {
		for _, g := range fx.GPUs {
			w.insert(TableGPUs, []any{g.ID, g.Name, nil})
		}
	}

	// Strings go last so every interned value is known.
	if !omit[TableStrings] {
		values := make([]string, 0, len(w.ids))
		for v := range w.ids {
			values = append(values, v)
		}
		sort.Slice(values, func(i, j int) bool { return w.ids[values[i]] < w.ids[values[j]] })
		for _, v := range values {
			w.insert(TableStrings, []any{w.ids[v], v})
		}
	}

	if w.err != nil {
		return w.err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("exporttest: failed to commit: %w", err)
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("exporttest: failed to close database: %w", err)
	}
	return nil
}

type writer struct {
	ctx   context.Context
	tx    *sql.Tx
	ids   map[string]int64
	stmts map[string]*sql.Stmt
	err   error
}

// intern returns the string id for v, allocating ids in first-use order.
func (w *writer) intern(v string) int64 {
	if id, ok := w.ids[v]; ok {
		return id
	}
	id := int64(len(w.ids) + 1)
	w.ids[v] = id
	return id
}

func (w *writer) nvtxRow(n NVTX) []any {
	typ := n.Type
	if typ == 0 {
		typ = NVTXPushPop
	}
	var end any = n.End
	if typ == NVTXMark || typ == NVTXDomainCreate {
		end = nil
	}
	var text, textID any
	if n.Interned {
		textID = w.intern(n.Text)
	} else if n.Text != "" {
		text = n.Text
	}
	var color any
	if n.Color != 0 {
		color = n.Color
	}
	gtid := GlobalTID(n.PID, n.TID)
	return []any{n.Start, end, typ, nil, nil, color, text, gtid, gtid, textID, n.Domain}
}

func (w *writer) insert(table string, args []any) {
	if w.err != nil {
		return
	}
	if w.stmts == nil {
		w.stmts = make(map[string]*sql.Stmt)
	}
	stmt, ok := w.stmts[table]
	if !ok {
		placeholders := "?"
		for i := 1; i < len(args); i++ {
			placeholders += ", ?"
		}
		var err error
		stmt, err = w.tx.PrepareContext(w.ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, placeholders))
		if err != nil {
			w.err = fmt.Errorf("exporttest: failed to prepare insert into %s: %w", table, err)
			return
		}
		w.stmts[table] = stmt
	}
	if _, err := stmt.ExecContext(w.ctx, args...); err != nil {
		w.err = fmt.Errorf("exporttest: failed to insert into %s: %w", table, err)
	}
}
