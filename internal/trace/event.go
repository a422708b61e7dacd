// Package trace turns normalized events into a Chrome Trace Event Format
// document and writes it to disk.
package trace

// Wire phases.
const (
	PhComplete  = "X"
	PhInstant   = "i"
	PhBegin     = "B"
	PhEnd       = "E"
	PhFlowStart = "s"
	PhFlowEnd   = "f"
	PhMetadata  = "M"
)

// Metadata record names.
const (
	MetaProcessName = "process_name"
	MetaThreadName  = "thread_name"

	// MetaCategory is the category of process and thread name records
	MetaCategory = "__metadata"
)

// Event is one trace record. The field names are the ones timeline viewers
// read; see the Trace Event Format document for their meaning.
type Event struct {
	Name  string         `json:"name"`
	Cat   string         `json:"cat,omitempty"`
	Ph    string         `json:"ph"`
	Ts    int64          `json:"ts"`
	Dur   *int64         `json:"dur,omitempty"`
	Pid   int            `json:"pid"`
	Tid   int            `json:"tid"`
	ID    string         `json:"id,omitempty"`
	BP    string         `json:"bp,omitempty"`
	S     string         `json:"s,omitempty"`
	Cname string         `json:"cname,omitempty"`
	Args  map[string]any `json:"args,omitempty"`
}

// Trace is a fully ordered list of records ready for encoding.
type Trace struct {
	Events []Event
}

// Len returns the number of records, metadata included.
func (t *Trace) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Events)
}

// Count returns the number of records of category cat.
func (t *Trace) Count(cat string) int {
	n := 0
	for _, ev := range t.Events {
		if ev.Cat == cat {
			n++
		}
	}
	return n
}
