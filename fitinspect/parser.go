package fitinspect

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/tormoder/fit/dyncrc16"
)

const (
	compressedHeaderBit = 0x80
	definitionBit       = 0x40
	devDataBit          = 0x20
	localNumMask        = 0x0F
	compressedLocalMask = 0x60
	compressedTimeMask  = 0x1F

	headerSizeShort = 12
	headerSizeLong  = 14

	timestampFieldNum = 253
)

var fitEpoch = time.Date(1989, 12, 31, 0, 0, 0, 0, time.UTC)

type baseType struct {
	name    string
	size    int
	invalid uint64
	zeroInv bool
}

// Keyed by the low five bits of the base type byte.
var baseTypes = map[uint8]baseType{
	0x00: {name: "enum", size: 1, invalid: 0xFF},
	0x01: {name: "sint8", size: 1, invalid: 0x7F},
	0x02: {name: "uint8", size: 1, invalid: 0xFF},
	0x03: {name: "sint16", size: 2, invalid: 0x7FFF},
	0x04: {name: "uint16", size: 2, invalid: 0xFFFF},
	0x05: {name: "sint32", size: 4, invalid: 0x7FFFFFFF},
	0x06: {name: "uint32", size: 4, invalid: 0xFFFFFFFF},
	0x07: {name: "string", size: 1},
	0x08: {name: "float32", size: 4, invalid: 0xFFFFFFFF},
	0x09: {name: "float64", size: 8, invalid: math.MaxUint64},
	0x0A: {name: "uint8z", size: 1, zeroInv: true},
	0x0B: {name: "uint16z", size: 2, zeroInv: true},
	0x0C: {name: "uint32z", size: 4, zeroInv: true},
	0x0D: {name: "byte", size: 1, invalid: 0xFF},
	0x0E: {name: "sint64", size: 8, invalid: 0x7FFFFFFFFFFFFFFF},
	0x0F: {name: "uint64", size: 8, invalid: math.MaxUint64},
	0x10: {name: "uint64z", size: 8, zeroInv: true},
}

type fieldDef struct {
	num  uint8
	size uint8
	base uint8
}

type definition struct {
	global    uint16
	order     binary.ByteOrder
	fields    []fieldDef
	devFields []fieldDef
}

type parser struct {
	data        []byte
	offset      int
	defs        map[uint8]definition
	lastTime    uint32
	lastTimeOff uint8
	records     []Record
}

// ParseBytes parses a complete FIT file. Data messages that reference an
// undefined local message type are rejected.
func ParseBytes(data []byte) (*Bundle, error) {
	if len(data) < headerSizeShort+2 {
		return nil, fmt.Errorf("fit file too short: %d bytes", len(data))
	}
	header, headerCRC, err := parseHeader(data)
	if err != nil {
		return nil, err
	}

	start := int(header.Size)
	end := start + int(header.DataSize)
	if len(data) < end+2 {
		return nil, fmt.Errorf("fit file truncated: have %d bytes, need %d", len(data), end+2)
	}

	stored := binary.LittleEndian.Uint16(data[end : end+2])
	computed := dyncrc16.Checksum(data[:end])
	p := &parser{
		data:   data[start:end],
		offset: start,
		defs:   make(map[uint8]definition),
	}
	if err := p.parse(); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	b := &Bundle{
		Header:    header,
		HeaderCRC: headerCRC,
		FileCRC: CRCCheck{
			Present:  true,
			Stored:   stored,
			Computed: computed,
			Valid:    stored == computed,
		},
		Records:       p.records,
		TrailingBytes: len(data) - end - 2,
		SHA256:        hex.EncodeToString(sum[:]),
		SizeBytes:     len(data),
	}
	for _, r := range b.Records {
		if r.Kind == KindDefinition {
			b.DefinitionCount++
		} else {
			b.DataCount++
		}
	}
	return b, nil
}

func parseHeader(data []byte) (Header, CRCCheck, error) {
	size := data[0]
	if size != headerSizeShort && size != headerSizeLong {
		return Header{}, CRCCheck{}, fmt.Errorf("invalid fit header size: %d", size)
	}
	if len(data) < int(size) {
		return Header{}, CRCCheck{}, fmt.Errorf("truncated fit header: need %d bytes", size)
	}
	h := Header{
		Size:            size,
		ProtocolVersion: data[1],
		ProfileVersion:  binary.LittleEndian.Uint16(data[2:4]),
		DataSize:        binary.LittleEndian.Uint32(data[4:8]),
		DataType:        string(data[8:12]),
	}
	if h.DataType != ".FIT" {
		return Header{}, CRCCheck{}, fmt.Errorf("invalid fit data type in header: %q", h.DataType)
	}

	check := CRCCheck{Valid: true}
	if size == headerSizeLong {
		check.Present = true
		check.Stored = binary.LittleEndian.Uint16(data[12:14])
		// A zero header CRC means "not computed".
		if check.Stored != 0 {
			check.Computed = dyncrc16.Checksum(data[:12])
			check.Valid = check.Stored == check.Computed
		}
	}
	return h, check, nil
}

func (p *parser) parse() error {
	pos := 0
	for pos < len(p.data) {
		index := len(p.records) + 1
		header := p.data[pos]

		var (
			rec  Record
			next int
			err  error
		)
		switch {
		case header&compressedHeaderBit != 0:
			local := (header & compressedLocalMask) >> 5
			rec, next, err = p.dataRecord(index, pos, local, true)
		case header&definitionBit != 0:
			rec, next, err = p.definitionRecord(index, pos)
		default:
			rec, next, err = p.dataRecord(index, pos, header&localNumMask, false)
		}
		if err != nil {
			return err
		}
		p.records = append(p.records, rec)
		pos = next
	}
	return nil
}

func (p *parser) take(pos, n, recStart int) ([]byte, int, error) {
	if pos+n > len(p.data) {
		return nil, 0, fmt.Errorf("record at byte %d truncated", p.offset+recStart)
	}
	return p.data[pos : pos+n], pos + n, nil
}

func (p *parser) definitionRecord(index, start int) (Record, int, error) {
	header := p.data[start]
	local := header & localNumMask

	// reserved, architecture, global number (2), field count
	fixed, pos, err := p.take(start+1, 5, start)
	if err != nil {
		return Record{}, 0, err
	}
	var order binary.ByteOrder
	switch fixed[1] {
	case 0:
		order = binary.LittleEndian
	case 1:
		order = binary.BigEndian
	default:
		return Record{}, 0, fmt.Errorf("invalid architecture byte %d at record %d", fixed[1], index)
	}
	def := definition{global: order.Uint16(fixed[2:4]), order: order}

	count := int(fixed[4])
	for i := 0; i < count; i++ {
		var raw []byte
		raw, pos, err = p.take(pos, 3, start)
		if err != nil {
			return Record{}, 0, err
		}
		def.fields = append(def.fields, fieldDef{num: raw[0], size: raw[1], base: raw[2]})
	}
	if header&devDataBit != 0 {
		var raw []byte
		raw, pos, err = p.take(pos, 1, start)
		if err != nil {
			return Record{}, 0, err
		}
		devCount := int(raw[0])
		for i := 0; i < devCount; i++ {
			raw, pos, err = p.take(pos, 3, start)
			if err != nil {
				return Record{}, 0, err
			}
			def.devFields = append(def.devFields, fieldDef{num: raw[0], size: raw[1], base: raw[2]})
		}
	}
	p.defs[local] = def

	rec := Record{
		FormatVersion: FormatVersion,
		Index:         index,
		Offset:        p.offset + start,
		Kind:          KindDefinition,
		Local:         local,
		Global:        def.global,
		Message:       MessageName(def.global),
		BigEndian:     order == binary.BigEndian,
		Fields:        make([]Field, 0, len(def.fields)),
		DevFieldCount: len(def.devFields),
		RawHex:        hex.EncodeToString(p.data[start:pos]),
	}
	for _, fd := range def.fields {
		rec.Fields = append(rec.Fields, Field{
			Number:   fd.num,
			Name:     fieldName(def.global, fd.num),
			Size:     fd.size,
			BaseType: baseTypeName(fd.base),
		})
	}
	return rec, pos, nil
}

func (p *parser) dataRecord(index, start int, local uint8, compressed bool) (Record, int, error) {
	def, ok := p.defs[local]
	if !ok {
		return Record{}, 0, fmt.Errorf("data message at record %d uses undefined local type %d", index, local)
	}
	rec := Record{
		FormatVersion: FormatVersion,
		Index:         index,
		Offset:        p.offset + start,
		Kind:          KindData,
		Local:         local,
		Global:        def.global,
		Message:       MessageName(def.global),
		BigEndian:     def.order == binary.BigEndian,
		Fields:        make([]Field, 0, len(def.fields)),
		DevFieldCount: len(def.devFields),
	}

	if compressed && p.lastTime != 0 {
		off := p.data[start] & compressedTimeMask
		p.lastTime += uint32((off - p.lastTimeOff) & compressedTimeMask)
		p.lastTimeOff = off
		rec.Timestamp = fitTime(p.lastTime).Format(time.RFC3339)
	}

	pos := start + 1
	for _, fd := range def.fields {
		var (
			raw []byte
			err error
		)
		raw, pos, err = p.take(pos, int(fd.size), start)
		if err != nil {
			return Record{}, 0, err
		}
		f := decodeField(def.global, fd, raw, def.order)
		if fd.num == timestampFieldNum && !f.Invalid {
			if ts, ok := f.Value.(uint32); ok {
				p.lastTime = ts
				p.lastTimeOff = uint8(ts & compressedTimeMask)
				rec.Timestamp = fitTime(ts).Format(time.RFC3339)
			}
		}
		rec.Fields = append(rec.Fields, f)
	}
	for _, fd := range def.devFields {
		var err error
		_, pos, err = p.take(pos, int(fd.size), start)
		if err != nil {
			return Record{}, 0, err
		}
	}
	rec.RawHex = hex.EncodeToString(p.data[start:pos])
	return rec, pos, nil
}

func decodeField(global uint16, fd fieldDef, raw []byte, order binary.ByteOrder) Field {
	f := Field{
		Number:   fd.num,
		Name:     fieldName(global, fd.num),
		Size:     fd.size,
		BaseType: baseTypeName(fd.base),
	}
	bt, ok := baseTypes[fd.base&0x1F]
	switch {
	case !ok || bt.name == "byte" || len(raw)%bt.size != 0:
		f.Value = hex.EncodeToString(raw)
		f.Invalid = allBytes(raw, 0xFF)
		return f
	case bt.name == "string":
		n := len(raw)
		for i, b := range raw {
			if b == 0 {
				n = i
				break
			}
		}
		f.Value = string(raw[:n])
		f.Invalid = n == 0
		return f
	}

	count := len(raw) / bt.size
	values := make([]any, 0, count)
	invalid := 0
	for i := 0; i < count; i++ {
		v, bits := decodeScalar(raw[i*bt.size:(i+1)*bt.size], fd.base&0x1F, order)
		if (bt.zeroInv && bits == 0) || (!bt.zeroInv && bits == bt.invalid) {
			invalid++
		}
		values = append(values, v)
	}
	f.Invalid = invalid == count
	if count == 1 {
		f.Value = values[0]
	} else {
		f.Value = values
	}
	if !f.Invalid && count == 1 {
		f.Scaled, f.Units = scaleField(global, fd.num, f.Value)
	}
	return f
}

// decodeScalar returns the typed value and its raw bit pattern for invalid
// checks.
func decodeScalar(raw []byte, base uint8, order binary.ByteOrder) (any, uint64) {
	switch base {
	case 0x00, 0x02, 0x0A:
		return raw[0], uint64(raw[0])
	case 0x01:
		return int8(raw[0]), uint64(raw[0])
	case 0x03:
		v := order.Uint16(raw)
		return int16(v), uint64(v)
	case 0x04, 0x0B:
		v := order.Uint16(raw)
		return v, uint64(v)
	case 0x05:
		v := order.Uint32(raw)
		return int32(v), uint64(v)
	case 0x06, 0x0C:
		v := order.Uint32(raw)
		return v, uint64(v)
	case 0x08:
		v := order.Uint32(raw)
		return float64(math.Float32frombits(v)), uint64(v)
	case 0x09:
		v := order.Uint64(raw)
		return math.Float64frombits(v), v
	case 0x0E:
		v := order.Uint64(raw)
		return int64(v), v
	default:
		v := order.Uint64(raw)
		return v, v
	}
}

func baseTypeName(b uint8) string {
	if bt, ok := baseTypes[b&0x1F]; ok {
		return bt.name
	}
	return fmt.Sprintf("unknown_0x%02X", b)
}

func allBytes(raw []byte, v byte) bool {
	if len(raw) == 0 {
		return false
	}
	for _, b := range raw {
		if b != v {
			return false
		}
	}
	return true
}

func fitTime(ts uint32) time.Time {
	return fitEpoch.Add(time.Duration(ts) * time.Second)
}
