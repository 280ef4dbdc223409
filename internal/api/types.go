package api

// importRequest is the body of POST /v1/import.
type importRequest struct {
	// File is a path reachable from the worker's working directory.
	File string `json:"file"`
}

// importResponse adds host-side bookkeeping to the worker's receipt.
type importResponse struct {
	TalkerID     string `json:"talker_id"`
	MessageCount int    `json:"message_count"`
	BuildStatus  string `json:"build_status"`
	Checksum     string `json:"checksum,omitempty"`
	// Duplicate is true when a file with the same checksum was imported
	// before. The import still runs; the worker upserts messages.
	Duplicate bool `json:"duplicate,omitempty"`
}

// queryRequest is the body of POST /v1/query.
type queryRequest struct {
	Talker    string         `json:"talker"`
	Question  string         `json:"question"`
	Overrides map[string]any `json:"config_overrides,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
