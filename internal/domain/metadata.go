package domain

import "fmt"

// UnitMetadata is the structured metadata carried by every content unit.
// Fields that every source provides are typed; anything else external
// callers want to attach goes through Extra as strings, coerced at the
// boundary where untyped data enters the system.
type UnitMetadata struct {
	Origin       string            `json:"origin"`
	SourceName   string            `json:"source_name"`
	SourcePath   string            `json:"source_path,omitempty"`
	SourceURL    string            `json:"source_url,omitempty"`
	ContainerID  string            `json:"container_id,omitempty"`
	MimeType     string            `json:"mime_type,omitempty"`
	ModifiedTime string            `json:"modified_time,omitempty"`
	SizeBytes    int64             `json:"size_bytes,omitempty"`
	SectionLabel string            `json:"section_label,omitempty"`
	SectionIndex int               `json:"section_index"`
	TotalUnits   int               `json:"total_units"`
	TokenCount   int               `json:"token_count,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// SetExtra stores an arbitrary external value under key, coercing it to a
// string. Nil values are dropped.
func (m *UnitMetadata) SetExtra(key string, value any) {
	if value == nil {
		return
	}
	if m.Extra == nil {
		m.Extra = make(map[string]string)
	}
	switch v := value.(type) {
	case string:
		m.Extra[key] = v
	default:
		m.Extra[key] = fmt.Sprint(v)
	}
}
