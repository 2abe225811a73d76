package fitinspect

import (
	"bytes"
	"fmt"
	"time"

	"github.com/tormoder/fit"
)

// Global message numbers written by the activity exporter.
const (
	MesgFileID   uint16 = 0
	MesgSession  uint16 = 18
	MesgLap      uint16 = 19
	MesgRecord   uint16 = 20
	MesgEvent    uint16 = 21
	MesgActivity uint16 = 34
)

// Event field numbers and values.
const (
	eventFieldEvent     = 0
	eventFieldEventType = 1

	eventTimer = 0

	eventTypeStart          = 0
	eventTypeStop           = 1
	eventTypeStopAll        = 4
	eventTypeStopDisableAll = 9
)

var messageNames = map[uint16]string{
	MesgFileID:   "file_id",
	MesgSession:  "session",
	MesgLap:      "lap",
	MesgRecord:   "record",
	MesgEvent:    "event",
	MesgActivity: "activity",
	23:           "device_info",
	49:           "file_creator",
	206:          "field_description",
	207:          "developer_data_id",
}

type fieldInfo struct {
	name   string
	units  string
	scale  float64
	offset float64
	time   bool
	semi   bool
}

var fieldInfos = map[uint16]map[uint8]fieldInfo{
	MesgFileID: {
		0: {name: "type"},
		1: {name: "manufacturer"},
		2: {name: "product"},
		3: {name: "serial_number"},
		4: {name: "time_created", time: true},
	},
	MesgSession: {
		253: {name: "timestamp", time: true},
		0:   {name: "event"},
		1:   {name: "event_type"},
		2:   {name: "start_time", time: true},
		5:   {name: "sport"},
		6:   {name: "sub_sport"},
		7:   {name: "total_elapsed_time", units: "s", scale: 1000},
		8:   {name: "total_timer_time", units: "s", scale: 1000},
		9:   {name: "total_distance", units: "m", scale: 100},
		22:  {name: "total_ascent", units: "m"},
		28:  {name: "trigger"},
	},
	MesgLap: {
		253: {name: "timestamp", time: true},
		0:   {name: "event"},
		1:   {name: "event_type"},
		2:   {name: "start_time", time: true},
	},
	MesgRecord: {
		253: {name: "timestamp", time: true},
		0:   {name: "position_lat", units: "deg", semi: true},
		1:   {name: "position_long", units: "deg", semi: true},
		2:   {name: "altitude", units: "m", scale: 5, offset: 500},
		5:   {name: "distance", units: "m", scale: 100},
		78:  {name: "enhanced_altitude", units: "m", scale: 5, offset: 500},
	},
	MesgEvent: {
		253: {name: "timestamp", time: true},
		0:   {name: "event"},
		1:   {name: "event_type"},
		4:   {name: "event_group"},
	},
}

// MessageName returns a readable name for a global message number.
func MessageName(global uint16) string {
	if name, ok := messageNames[global]; ok {
		return name
	}
	return fmt.Sprintf("mesg_%d", global)
}

func fieldName(global uint16, num uint8) string {
	if info, ok := fieldInfos[global][num]; ok {
		return info.name
	}
	if num == timestampFieldNum {
		return "timestamp"
	}
	return ""
}

func scaleField(global uint16, num uint8, v any) (any, string) {
	info, ok := fieldInfos[global][num]
	if !ok {
		return nil, ""
	}
	switch {
	case info.time:
		if ts, ok := v.(uint32); ok {
			return fitTime(ts).Format(time.RFC3339), "utc"
		}
	case info.semi:
		if s, ok := v.(int32); ok {
			return float64(s) * (180.0 / 2147483648.0), info.units
		}
	case info.scale != 0:
		if f, ok := toFloat(v); ok {
			return f/info.scale - info.offset, info.units
		}
	}
	return nil, ""
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	}
	return 0, false
}

// FileID is a projection of the file_id message.
type FileID struct {
	Type         string    `json:"type"`
	Manufacturer string    `json:"manufacturer"`
	Product      uint16    `json:"product"`
	TimeCreated  time.Time `json:"time_created,omitempty"`
}

// ProjectFileID decodes only the header and file_id message.
func ProjectFileID(data []byte) (*FileID, error) {
	_, id, err := fit.DecodeHeaderAndFileID(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode file id: %w", err)
	}
	out := &FileID{
		Type:         fmt.Sprint(id.Type),
		Manufacturer: fmt.Sprint(id.Manufacturer),
		Product:      id.Product,
	}
	if !id.TimeCreated.IsZero() && !fit.IsBaseTime(id.TimeCreated) {
		out.TimeCreated = id.TimeCreated.UTC()
	}
	return out, nil
}
