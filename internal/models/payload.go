package models

import "encoding/json"

// PayloadVersion is the current report payload contract version.
const PayloadVersion = 1

// ReportPayload is the documented shape of a completed report's payload.
// The server stores whatever the workflow engine posts back verbatim; this
// type exists so producers and consumers agree on the common fields.
type ReportPayload struct {
	Version      int                        `json:"version"`
	RiskScore    int                        `json:"riskScore"`    // 0-100.
	RiskCategory string                     `json:"riskCategory"` // low, medium, high.
	Sections     map[string]json.RawMessage `json:"sections,omitempty"`
}

// ParseReportPayload decodes a stored payload. Unknown extra fields are
// ignored so older readers keep working as the contract grows.
func ParseReportPayload(raw []byte) (*ReportPayload, error) {
	var p ReportPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
