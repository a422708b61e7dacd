package types

import "fmt"

// Warning codes recorded when a category is skipped or degraded.
const (
	WarnTableMissing      = "table_missing"
	WarnSchemaMismatch    = "schema_mismatch"
	WarnExtractFailed     = "extract_failed"
	WarnDependencyMissing = "dependency_missing"
)

// Warning records a non-fatal problem with one category.
type Warning struct {
	Category Category `json:"category"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s skipped (%s): %s", w.Category, w.Code, w.Message)
}
