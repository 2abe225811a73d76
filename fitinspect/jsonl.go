package fitinspect

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// WriteJSONL writes one JSON object per record to w.
func WriteJSONL(w io.Writer, records []Record) error {
	buf := bufio.NewWriterSize(w, 1<<16)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("encode record %d: %w", record.Index, err)
		}
	}
	return buf.Flush()
}

// MarshalJSONL renders records as JSONL bytes.
func MarshalJSONL(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteJSONL(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Warnings returns parse-quality notes for b.
func (b *Bundle) Warnings() []string {
	if b == nil {
		return nil
	}
	out := make([]string, 0, 3)
	if b.HeaderCRC.Present && !b.HeaderCRC.Valid {
		out = append(out, "header CRC mismatch")
	}
	if !b.FileCRC.Valid {
		out = append(out, "file CRC mismatch")
	}
	if b.TrailingBytes > 0 {
		out = append(out, fmt.Sprintf("trailing bytes after file CRC: %d", b.TrailingBytes))
	}
	return out
}
