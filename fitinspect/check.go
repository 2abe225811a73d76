package fitinspect

import (
	"errors"
	"fmt"
)

// ErrOrder reports an activity file whose message layout consumers reject.
var ErrOrder = errors.New("fit activity message order")

// DataRecords returns data messages in file order.
func (b *Bundle) DataRecords() []Record {
	out := make([]Record, 0, b.DataCount)
	for _, r := range b.Records {
		if r.Kind == KindData {
			out = append(out, r)
		}
	}
	return out
}

// MessageSequence returns the global numbers of data messages in file order.
func (b *Bundle) MessageSequence() []uint16 {
	out := make([]uint16, 0, b.DataCount)
	for _, r := range b.Records {
		if r.Kind == KindData {
			out = append(out, r.Global)
		}
	}
	return out
}

// Count returns how many data messages have the given global number.
func (b *Bundle) Count(global uint16) int {
	n := 0
	for _, r := range b.Records {
		if r.Kind == KindData && r.Global == global {
			n++
		}
	}
	return n
}

// Validate reports header or file CRC mismatches.
func (b *Bundle) Validate() error {
	if !b.HeaderCRC.Valid {
		return fmt.Errorf("header crc mismatch: stored 0x%04X computed 0x%04X", b.HeaderCRC.Stored, b.HeaderCRC.Computed)
	}
	if !b.FileCRC.Valid {
		return fmt.Errorf("file crc mismatch: stored 0x%04X computed 0x%04X", b.FileCRC.Stored, b.FileCRC.Computed)
	}
	return nil
}

// CheckActivityOrder verifies the checksums, that file_id is the first data
// message and that a timer stop event is the last one. Definitions preceding
// their first use is enforced while parsing.
func (b *Bundle) CheckActivityOrder() error {
	if err := b.Validate(); err != nil {
		return err
	}
	data := b.DataRecords()
	if len(data) == 0 {
		return fmt.Errorf("%w: no data messages", ErrOrder)
	}
	if data[0].Global != MesgFileID {
		return fmt.Errorf("%w: first message is %s, want file_id", ErrOrder, data[0].Message)
	}
	last := data[len(data)-1]
	if !isTimerStop(last) {
		return fmt.Errorf("%w: last message is %s, want timer stop event", ErrOrder, last.Message)
	}
	return nil
}

// IsTimerStart reports whether r is a timer start event.
func IsTimerStart(r Record) bool {
	if r.Kind != KindData || r.Global != MesgEvent {
		return false
	}
	ev, ok := r.Uint(eventFieldEvent)
	if !ok || ev != eventTimer {
		return false
	}
	typ, ok := r.Uint(eventFieldEventType)
	return ok && typ == eventTypeStart
}

func isTimerStop(r Record) bool {
	if r.Kind != KindData || r.Global != MesgEvent {
		return false
	}
	ev, ok := r.Uint(eventFieldEvent)
	if !ok || ev != eventTimer {
		return false
	}
	typ, ok := r.Uint(eventFieldEventType)
	if !ok {
		return false
	}
	switch typ {
	case eventTypeStop, eventTypeStopAll, eventTypeStopDisableAll:
		return true
	}
	return false
}
