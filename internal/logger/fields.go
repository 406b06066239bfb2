package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the context.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldImportID identifies one run of the import pipeline
	FieldImportID = "import_id"

	// FieldDataset is the dataset name an operation targets
	FieldDataset = "dataset"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldSource is the source location of an import
	FieldSource = "source"
)

// Metric fields, used on single entries for aggregation.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldPhase is the import phase name
	FieldPhase = "phase"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldSize is the response size in bytes
	FieldSize = "size"
)
