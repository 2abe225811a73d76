// Package fitinspect parses FIT files at the record level so exported
// activities can be checked for header and file CRCs and message order.
package fitinspect

// FormatVersion identifies the JSONL record schema.
const FormatVersion = "nrc_fit_records_v1"

// Record kinds.
const (
	KindDefinition = "definition"
	KindData       = "data"
)

// Header holds the parsed FIT file header.
type Header struct {
	Size            uint8  `json:"size"`
	ProtocolVersion uint8  `json:"protocol_version"`
	ProfileVersion  uint16 `json:"profile_version"`
	DataSize        uint32 `json:"data_size"`
	DataType        string `json:"data_type"`
}

// CRCCheck describes one checksum validation.
type CRCCheck struct {
	Present  bool   `json:"present"`
	Stored   uint16 `json:"stored"`
	Computed uint16 `json:"computed"`
	Valid    bool   `json:"valid"`
}

// Bundle is a fully parsed FIT stream.
type Bundle struct {
	Header          Header   `json:"header"`
	HeaderCRC       CRCCheck `json:"header_crc"`
	FileCRC         CRCCheck `json:"file_crc"`
	Records         []Record `json:"-"`
	DefinitionCount int      `json:"definition_count"`
	DataCount       int      `json:"data_count"`
	TrailingBytes   int      `json:"trailing_bytes"`
	SHA256          string   `json:"sha256"`
	SizeBytes       int      `json:"size_bytes"`
}

// Record is one definition or data message, in file order.
type Record struct {
	FormatVersion string  `json:"format_version"`
	Index         int     `json:"index"`
	Offset        int     `json:"offset"`
	Kind          string  `json:"kind"`
	Local         uint8   `json:"local"`
	Global        uint16  `json:"global"`
	Message       string  `json:"message"`
	BigEndian     bool    `json:"big_endian,omitempty"`
	Fields        []Field `json:"fields"`
	DevFieldCount int     `json:"dev_field_count,omitempty"`
	Timestamp     string  `json:"timestamp,omitempty"`
	RawHex        string  `json:"raw_hex"`
}

// Field is a field definition (definition records) or a decoded field value
// (data records).
type Field struct {
	Number   uint8  `json:"number"`
	Name     string `json:"name,omitempty"`
	Size     uint8  `json:"size"`
	BaseType string `json:"base_type"`
	Value    any    `json:"value,omitempty"`
	Scaled   any    `json:"scaled,omitempty"`
	Units    string `json:"units,omitempty"`
	Invalid  bool   `json:"invalid,omitempty"`
}

// Field returns the field with the given number.
func (r Record) Field(num uint8) (Field, bool) {
	for _, f := range r.Fields {
		if f.Number == num {
			return f, true
		}
	}
	return Field{}, false
}

// Uint returns an unsigned integer field value when it is present and valid.
func (r Record) Uint(num uint8) (uint64, bool) {
	f, ok := r.Field(num)
	if !ok || f.Invalid {
		return 0, false
	}
	switch v := f.Value.(type) {
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	}
	return 0, false
}

// Int returns a signed integer field value when it is present and valid.
func (r Record) Int(num uint8) (int64, bool) {
	f, ok := r.Field(num)
	if !ok || f.Invalid {
		return 0, false
	}
	switch v := f.Value.(type) {
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}
