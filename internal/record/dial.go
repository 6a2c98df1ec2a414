package record

import "fmt"

// DialType enumerates dialogue topic categories.
type DialType uint8

const (
	DialTopic      DialType = 0
	DialVoice      DialType = 1
	DialGreeting   DialType = 2
	DialPersuasion DialType = 3
	DialJournal    DialType = 4
)

// Dial is the typed view of a DIAL record. The assembler partitions
// dialogue output on Journal(): journal topics first, all others after,
// both partitions in merge order.
type Dial struct {
	Name string
	Type DialType
}

// Journal reports whether the topic belongs to the journal partition.
func (d *Dial) Journal() bool {
	return d.Type == DialJournal
}

// DecodeDial decodes a DIAL record into its typed view.
func DecodeDial(rec *Record) (*Dial, error) {
	if rec.Tag != TagDialogue {
		return nil, fmt.Errorf("expected %s record, got %s", TagDialogue, rec.Tag)
	}
	name, ok := rec.Field("NAME")
	if !ok {
		return nil, fmt.Errorf("DIAL record has no NAME subrecord")
	}
	data, ok := rec.Field("DATA")
	if !ok || len(data) < 1 {
		return nil, fmt.Errorf("DIAL record %q has no DATA subrecord", cstring(name))
	}
	return &Dial{Name: cstring(name), Type: DialType(data[0])}, nil
}
