package ir

// Version constants for IR schema and engine.
const (
	// IRVersion is the CFG schema version.
	IRVersion = "1"

	// EngineVersion is the analysis engine version. Cached summaries written
	// by a different engine version are ignored.
	EngineVersion = "0.3.0"
)
