package record

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Cell record flags.
const (
	CellFlagInterior  = uint32(0x01)
	CellFlagHasWater  = uint32(0x02)
	CellFlagSleepless = uint32(0x04)
)

// MaxRefrIndex is the largest reference index representable in the
// packed FRMR layout (24 bits). The global reference allocator treats
// passing this as a fatal overflow.
const MaxRefrIndex = uint32(1<<24 - 1)

// MaxMasterIndex bounds the packed master byte of an FRMR subrecord.
const MaxMasterIndex = uint32(0xff)

// Grid is an exterior cell coordinate pair.
type Grid struct {
	X, Y int32
}

func (g Grid) String() string {
	return fmt.Sprintf("(%d,%d)", g.X, g.Y)
}

// CellKey identifies a cell. Interior and exterior cells live in
// disjoint keyspaces: interiors key by normalized name, exteriors by
// grid coordinates.
type CellKey struct {
	Interior bool
	Name     string // normalized, interior only
	Grid     Grid   // exterior only
}

func (k CellKey) String() string {
	if k.Interior {
		return k.Name
	}
	return k.Grid.String()
}

// RefKey addresses one placed reference within a cell's reference map.
// Master 0 denotes a reference defined directly by a merged plugin.
type RefKey struct {
	Master uint32
	Refr   uint32
}

// Reference is one placed object instance inside a cell.
type Reference struct {
	MastIndex  uint32
	RefrIndex  uint32
	ObjectID   string
	Persistent bool
	Deleted    bool
	MovedCell  *Grid
	Scale      *float32
	Count      *uint32
	Owner      string
	Global     string
	Key        string
	Trap       string
	LockLevel  *uint32
	Pos        [3]float32
	Rot        [3]float32
}

// Normalize folds engine-default field values to "absent" so the
// emitted form stays minimal: a count of 1 and a scale of 1.0 carry no
// information.
func (r *Reference) Normalize() {
	if r.Count != nil && *r.Count == 1 {
		r.Count = nil
	}
	if r.Scale != nil && *r.Scale == 1.0 {
		r.Scale = nil
	}
}

// Clone returns a deep copy of the reference.
func (r *Reference) Clone() *Reference {
	out := *r
	if r.MovedCell != nil {
		g := *r.MovedCell
		out.MovedCell = &g
	}
	if r.Scale != nil {
		v := *r.Scale
		out.Scale = &v
	}
	if r.Count != nil {
		v := *r.Count
		out.Count = &v
	}
	if r.LockLevel != nil {
		v := *r.LockLevel
		out.LockLevel = &v
	}
	return &out
}

// SortReferences orders references by the canonical total order:
// non-persistent before persistent, then resolved master index with
// locally-defined (master 0) ranked highest, then local reference
// index. This order is deterministic and is the only order in which
// references are assigned new global identities, making output
// reproducible regardless of map iteration order.
func SortReferences(refs []*Reference) {
	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.Persistent != b.Persistent {
			return !a.Persistent
		}
		ra, rb := masterRank(a.MastIndex), masterRank(b.MastIndex)
		if ra != rb {
			return ra < rb
		}
		if a.RefrIndex != b.RefrIndex {
			return a.RefrIndex < b.RefrIndex
		}
		return a.ObjectID < b.ObjectID
	})
}

// masterRank orders master indices with "locally defined" (0) highest.
func masterRank(mast uint32) uint64 {
	if mast == 0 {
		return math.MaxUint64
	}
	return uint64(mast)
}

// Cell is the typed view of a CELL record: scalar attributes plus the
// reference map.
type Cell struct {
	Name        string
	Flags       uint32
	Grid        Grid
	Region      *string
	MapColor    *uint32
	WaterHeight *float32
	Ambient     []byte
	Refs        map[RefKey]*Reference
}

// Interior reports whether the cell lives in the interior keyspace.
func (c *Cell) Interior() bool {
	return c.Flags&CellFlagInterior != 0
}

// Key returns the cell's identity in its keyspace.
func (c *Cell) Key() CellKey {
	if c.Interior() {
		return CellKey{Interior: true, Name: NormalizeName(c.Name)}
	}
	return CellKey{Grid: c.Grid}
}

// DecodeCell decodes a CELL record into its typed view.
func DecodeCell(rec *Record) (*Cell, error) {
	if rec.Tag != TagCell {
		return nil, fmt.Errorf("expected %s record, got %s", TagCell, rec.Tag)
	}

	c := &Cell{Refs: make(map[RefKey]*Reference)}
	var cur *Reference
	persistent := true // references before NAM0 are persistent

	flush := func() {
		if cur == nil {
			return
		}
		cur.Persistent = persistent
		cur.Normalize()
		c.Refs[RefKey{Master: cur.MastIndex, Refr: cur.RefrIndex}] = cur
		cur = nil
	}

	for _, f := range rec.Fields {
		if cur == nil {
			// Cell-level scalar attributes come before the first FRMR.
			switch f.Name {
			case "NAME":
				c.Name = cstring(f.Data)
				continue
			case "DATA":
				if len(f.Data) != 12 {
					return nil, fmt.Errorf("cell DATA is %d bytes, want 12", len(f.Data))
				}
				c.Flags = binary.LittleEndian.Uint32(f.Data[0:4])
				c.Grid.X = int32(binary.LittleEndian.Uint32(f.Data[4:8]))
				c.Grid.Y = int32(binary.LittleEndian.Uint32(f.Data[8:12]))
				continue
			case "RGNN":
				s := cstring(f.Data)
				c.Region = &s
				continue
			case "NAM5":
				if len(f.Data) != 4 {
					return nil, fmt.Errorf("cell NAM5 is %d bytes, want 4", len(f.Data))
				}
				v := binary.LittleEndian.Uint32(f.Data)
				c.MapColor = &v
				continue
			case "WHGT":
				if len(f.Data) != 4 {
					return nil, fmt.Errorf("cell WHGT is %d bytes, want 4", len(f.Data))
				}
				v := math.Float32frombits(binary.LittleEndian.Uint32(f.Data))
				c.WaterHeight = &v
				continue
			case "AMBI":
				amb := make([]byte, len(f.Data))
				copy(amb, f.Data)
				c.Ambient = amb
				continue
			}
		}
		switch f.Name {
		case "NAM0":
			// Separator: everything after is a temporary reference.
			flush()
			persistent = false
			continue
		case "FRMR":
			flush()
			if len(f.Data) != 4 {
				return nil, fmt.Errorf("FRMR is %d bytes, want 4", len(f.Data))
			}
			packed := binary.LittleEndian.Uint32(f.Data)
			cur = &Reference{
				MastIndex: packed >> 24,
				RefrIndex: packed & MaxRefrIndex,
			}
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("reference %s before FRMR in cell %q", f.Name, c.Name)
		}
		switch f.Name {
		case "NAME":
			cur.ObjectID = cstring(f.Data)
		case "XSCL":
			if len(f.Data) != 4 {
				return nil, fmt.Errorf("XSCL is %d bytes, want 4", len(f.Data))
			}
			v := math.Float32frombits(binary.LittleEndian.Uint32(f.Data))
			cur.Scale = &v
		case "NAM9":
			if len(f.Data) != 4 {
				return nil, fmt.Errorf("NAM9 is %d bytes, want 4", len(f.Data))
			}
			v := binary.LittleEndian.Uint32(f.Data)
			cur.Count = &v
		case "DELE":
			cur.Deleted = true
		case "MVRF":
			if len(f.Data) != 8 {
				return nil, fmt.Errorf("MVRF is %d bytes, want 8", len(f.Data))
			}
			g := Grid{
				X: int32(binary.LittleEndian.Uint32(f.Data[0:4])),
				Y: int32(binary.LittleEndian.Uint32(f.Data[4:8])),
			}
			cur.MovedCell = &g
		case "ANAM":
			cur.Owner = cstring(f.Data)
		case "BNAM":
			cur.Global = cstring(f.Data)
		case "KNAM":
			cur.Key = cstring(f.Data)
		case "TNAM":
			cur.Trap = cstring(f.Data)
		case "FLTV":
			if len(f.Data) != 4 {
				return nil, fmt.Errorf("FLTV is %d bytes, want 4", len(f.Data))
			}
			v := binary.LittleEndian.Uint32(f.Data)
			cur.LockLevel = &v
		case "DATA":
			if len(f.Data) != 24 {
				return nil, fmt.Errorf("reference DATA is %d bytes, want 24", len(f.Data))
			}
			for i := 0; i < 3; i++ {
				cur.Pos[i] = math.Float32frombits(binary.LittleEndian.Uint32(f.Data[i*4 : i*4+4]))
				cur.Rot[i] = math.Float32frombits(binary.LittleEndian.Uint32(f.Data[12+i*4 : 16+i*4]))
			}
		default:
			return nil, fmt.Errorf("unexpected subrecord %s in cell %q", f.Name, c.Name)
		}
	}
	flush()
	return c, nil
}

// Record re-encodes the cell into its generic form. References are
// emitted in the canonical sort order so encoding is deterministic.
func (c *Cell) Record() (Record, error) {
	rec := Record{Tag: TagCell}

	name := c.Name
	rec.Fields = append(rec.Fields, Field{Name: "NAME", Data: append([]byte(name), 0)})

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], c.Flags)
	binary.LittleEndian.PutUint32(data[4:8], uint32(c.Grid.X))
	binary.LittleEndian.PutUint32(data[8:12], uint32(c.Grid.Y))
	rec.Fields = append(rec.Fields, Field{Name: "DATA", Data: data})

	if c.Region != nil {
		rec.Fields = append(rec.Fields, Field{Name: "RGNN", Data: append([]byte(*c.Region), 0)})
	}
	if c.MapColor != nil {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, *c.MapColor)
		rec.Fields = append(rec.Fields, Field{Name: "NAM5", Data: buf})
	}
	if c.WaterHeight != nil {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(*c.WaterHeight))
		rec.Fields = append(rec.Fields, Field{Name: "WHGT", Data: buf})
	}
	if c.Ambient != nil {
		amb := make([]byte, len(c.Ambient))
		copy(amb, c.Ambient)
		rec.Fields = append(rec.Fields, Field{Name: "AMBI", Data: amb})
	}

	refs := c.SortedRefs()
	var persistent, temporary []*Reference
	for _, r := range refs {
		if r.Persistent {
			persistent = append(persistent, r)
		} else {
			temporary = append(temporary, r)
		}
	}
	// Canonical order puts non-persistent first; the wire layout puts
	// persistent references before the NAM0 separator.
	for _, r := range persistent {
		if err := appendReference(&rec, r); err != nil {
			return Record{}, err
		}
	}
	nam0 := make([]byte, 4)
	binary.LittleEndian.PutUint32(nam0, uint32(len(temporary)))
	rec.Fields = append(rec.Fields, Field{Name: "NAM0", Data: nam0})
	for _, r := range temporary {
		if err := appendReference(&rec, r); err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}

// SortedRefs returns the cell's references in canonical order.
func (c *Cell) SortedRefs() []*Reference {
	refs := make([]*Reference, 0, len(c.Refs))
	for _, r := range c.Refs {
		refs = append(refs, r)
	}
	SortReferences(refs)
	return refs
}

func appendReference(rec *Record, r *Reference) error {
	if r.MastIndex > MaxMasterIndex {
		return fmt.Errorf("reference %q master index %d exceeds %d", r.ObjectID, r.MastIndex, MaxMasterIndex)
	}
	if r.RefrIndex > MaxRefrIndex {
		return fmt.Errorf("reference %q index %d exceeds %d", r.ObjectID, r.RefrIndex, MaxRefrIndex)
	}
	frmr := make([]byte, 4)
	binary.LittleEndian.PutUint32(frmr, r.MastIndex<<24|r.RefrIndex)
	rec.Fields = append(rec.Fields, Field{Name: "FRMR", Data: frmr})
	rec.Fields = append(rec.Fields, Field{Name: "NAME", Data: append([]byte(r.ObjectID), 0)})
	if r.Scale != nil {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(*r.Scale))
		rec.Fields = append(rec.Fields, Field{Name: "XSCL", Data: buf})
	}
	if r.Count != nil {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, *r.Count)
		rec.Fields = append(rec.Fields, Field{Name: "NAM9", Data: buf})
	}
	if r.Deleted {
		rec.Fields = append(rec.Fields, Field{Name: "DELE", Data: make([]byte, 4)})
	}
	if r.MovedCell != nil {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(r.MovedCell.X))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(r.MovedCell.Y))
		rec.Fields = append(rec.Fields, Field{Name: "MVRF", Data: buf})
	}
	if r.Owner != "" {
		rec.Fields = append(rec.Fields, Field{Name: "ANAM", Data: append([]byte(r.Owner), 0)})
	}
	if r.Global != "" {
		rec.Fields = append(rec.Fields, Field{Name: "BNAM", Data: append([]byte(r.Global), 0)})
	}
	if r.Key != "" {
		rec.Fields = append(rec.Fields, Field{Name: "KNAM", Data: append([]byte(r.Key), 0)})
	}
	if r.Trap != "" {
		rec.Fields = append(rec.Fields, Field{Name: "TNAM", Data: append([]byte(r.Trap), 0)})
	}
	if r.LockLevel != nil {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, *r.LockLevel)
		rec.Fields = append(rec.Fields, Field{Name: "FLTV", Data: buf})
	}
	data := make([]byte, 24)
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(data[i*4:i*4+4], math.Float32bits(r.Pos[i]))
		binary.LittleEndian.PutUint32(data[12+i*4:16+i*4], math.Float32bits(r.Rot[i]))
	}
	rec.Fields = append(rec.Fields, Field{Name: "DATA", Data: data})
	return nil
}
