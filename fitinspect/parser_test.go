package fitinspect

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/tormoder/fit"
	"github.com/tormoder/fit/dyncrc16"
)

// assemble wraps record bytes with a 14-byte header and trailing file CRC.
func assemble(records []byte) []byte {
	header := make([]byte, headerSizeLong)
	header[0] = headerSizeLong
	header[1] = 0x10
	binary.LittleEndian.PutUint16(header[2:4], 2132)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(records)))
	copy(header[8:12], ".FIT")
	binary.LittleEndian.PutUint16(header[12:14], dyncrc16.Checksum(header[:12]))

	out := append(header, records...)
	crc := make([]byte, 2)
	binary.LittleEndian.PutUint16(crc, dyncrc16.Checksum(out))
	return append(out, crc...)
}

var (
	fileIDDefinition = []byte{0x40, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00}
	fileIDActivity   = []byte{0x00, 0x04}
	eventDefinition  = []byte{0x41, 0x00, 0x00, 0x15, 0x00, 0x02, 0x00, 0x01, 0x00, 0x01, 0x01, 0x00}
	eventStopAll     = []byte{0x01, 0x00, 0x04}
	eventStart       = []byte{0x01, 0x00, 0x00}
)

func join(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func TestParseBytesHandBuiltActivity(t *testing.T) {
	data := assemble(join(fileIDDefinition, fileIDActivity, eventDefinition, eventStart, eventStopAll))

	b, err := ParseBytes(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !b.HeaderCRC.Present || !b.HeaderCRC.Valid || !b.FileCRC.Valid {
		t.Fatalf("unexpected crc state: header=%+v file=%+v", b.HeaderCRC, b.FileCRC)
	}
	if b.DefinitionCount != 2 || b.DataCount != 3 {
		t.Fatalf("definitions %d, data %d", b.DefinitionCount, b.DataCount)
	}
	if diff := cmp.Diff([]uint16{MesgFileID, MesgEvent, MesgEvent}, b.MessageSequence()); diff != "" {
		t.Fatalf("sequence mismatch (-want +got):\n%s", diff)
	}
	if err := b.CheckActivityOrder(); err != nil {
		t.Fatalf("order check: %v", err)
	}
	msgs := b.DataRecords()
	if !IsTimerStart(msgs[1]) {
		t.Fatalf("second data message should be timer start: %+v", msgs[1])
	}
	if msgs[0].Message != "file_id" || msgs[0].Fields[0].Name != "type" {
		t.Fatalf("unexpected file_id naming: %+v", msgs[0])
	}
	if len(b.Warnings()) != 0 {
		t.Fatalf("unexpected warnings: %v", b.Warnings())
	}
}

func TestCheckActivityOrderRejectsBadLayouts(t *testing.T) {
	eventFirst := assemble(join(eventDefinition, eventStart, fileIDDefinition, fileIDActivity, eventStopAll))
	b, err := ParseBytes(eventFirst)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := b.CheckActivityOrder(); !errors.Is(err, ErrOrder) {
		t.Fatalf("expected ErrOrder for event-first file, got %v", err)
	}

	noStop := assemble(join(fileIDDefinition, fileIDActivity, eventDefinition, eventStart))
	b, err = ParseBytes(noStop)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := b.CheckActivityOrder(); !errors.Is(err, ErrOrder) {
		t.Fatalf("expected ErrOrder without stop event, got %v", err)
	}
}

func TestParseBytesDetectsCorruption(t *testing.T) {
	data := assemble(join(fileIDDefinition, fileIDActivity, eventDefinition, eventStopAll))
	data[len(data)-1] ^= 0xFF

	b, err := ParseBytes(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if b.FileCRC.Valid {
		t.Fatal("expected file crc mismatch")
	}
	if err := b.CheckActivityOrder(); err == nil || !strings.Contains(err.Error(), "file crc") {
		t.Fatalf("expected crc error, got %v", err)
	}

	if _, err := ParseBytes(data[:10]); err == nil {
		t.Fatal("expected error for truncated file")
	}

	undefined := assemble(join(fileIDDefinition, fileIDActivity, []byte{0x02, 0x00}))
	if _, err := ParseBytes(undefined); err == nil {
		t.Fatal("expected error for data before its definition")
	}
}

func TestParseBytesTormoderEncodedFile(t *testing.T) {
	header := fit.NewHeader(fit.V20, true)
	file, err := fit.NewFile(fit.FileTypeActivity, header)
	if err != nil {
		t.Fatalf("new fit file: %v", err)
	}
	file.FileId.Manufacturer = fit.ManufacturerDevelopment
	activity, err := file.Activity()
	if err != nil {
		t.Fatalf("activity accessor: %v", err)
	}
	record := fit.NewRecordMsg()
	record.Timestamp = time.Date(2026, 2, 26, 23, 0, 30, 0, time.UTC)
	record.Distance = 12345
	activity.Records = append(activity.Records, record)

	var buf bytes.Buffer
	if err := fit.Encode(&buf, file, binary.LittleEndian); err != nil {
		t.Fatalf("encode fit: %v", err)
	}

	b, err := ParseBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := b.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if b.Count(MesgRecord) != 1 {
		t.Fatalf("record count = %d", b.Count(MesgRecord))
	}
	var rec Record
	for _, r := range b.DataRecords() {
		if r.Global == MesgRecord {
			rec = r
		}
	}
	dist, ok := rec.Field(5)
	if !ok || dist.Scaled != 123.45 || dist.Units != "m" {
		t.Fatalf("unexpected distance field: %+v", dist)
	}
	if rec.Timestamp != "2026-02-26T23:00:30Z" {
		t.Fatalf("record timestamp = %q", rec.Timestamp)
	}

	id, err := ProjectFileID(buf.Bytes())
	if err != nil {
		t.Fatalf("project file id: %v", err)
	}
	if id.Type != fit.FileTypeActivity.String() {
		t.Fatalf("file id type = %q", id.Type)
	}

	lines, err := MarshalJSONL(b.Records)
	if err != nil {
		t.Fatalf("marshal jsonl: %v", err)
	}
	if got := strings.Count(string(lines), "\n"); got != len(b.Records) {
		t.Fatalf("jsonl lines %d, records %d", got, len(b.Records))
	}
}
