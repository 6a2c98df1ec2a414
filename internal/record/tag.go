package record

import "fmt"

// Tag is the four-character discriminant of a record kind.
type Tag string

// The closed set of record kinds handled by the merge engine.
const (
	TagHeader    Tag = "TES3"
	TagGameSet   Tag = "GMST"
	TagGlobal    Tag = "GLOB"
	TagClass     Tag = "CLAS"
	TagFaction   Tag = "FACT"
	TagRace      Tag = "RACE"
	TagSound     Tag = "SOUN"
	TagSoundGen  Tag = "SNDG"
	TagSkill     Tag = "SKIL"
	TagMagicFx   Tag = "MGEF"
	TagScript    Tag = "SCPT"
	TagRegion    Tag = "REGN"
	TagBirthsign Tag = "BSGN"
	TagStartScr  Tag = "SSCR"
	TagLandTex   Tag = "LTEX"
	TagStatic    Tag = "STAT"
	TagDoor      Tag = "DOOR"
	TagMisc      Tag = "MISC"
	TagWeapon    Tag = "WEAP"
	TagContainer Tag = "CONT"
	TagSpell     Tag = "SPEL"
	TagCreature  Tag = "CREA"
	TagBodyPart  Tag = "BODY"
	TagLight     Tag = "LIGH"
	TagEnchant   Tag = "ENCH"
	TagNPC       Tag = "NPC_"
	TagArmor     Tag = "ARMO"
	TagClothing  Tag = "CLOT"
	TagRepair    Tag = "REPA"
	TagActivator Tag = "ACTI"
	TagApparatus Tag = "APPA"
	TagLockpick  Tag = "LOCK"
	TagProbe     Tag = "PROB"
	TagIngred    Tag = "INGR"
	TagBook      Tag = "BOOK"
	TagLevItem   Tag = "LEVI"
	TagLevCrea   Tag = "LEVC"
	TagCell      Tag = "CELL"
	TagLand      Tag = "LAND"
	TagPathGrid  Tag = "PGRD"
	TagDialogue  Tag = "DIAL"
	TagInfo      Tag = "INFO"
	TagAlchemy   Tag = "ALCH"
)

// KeyKind selects how a record kind derives its deduplication key.
type KeyKind int

const (
	// KeyNone marks kinds with no table slot (the header).
	KeyNone KeyKind = iota
	// KeyName keys by the lowercased NFC id string (NAME subrecord).
	KeyName
	// KeyCode keys by an int32 enumeration code (INDX subrecord).
	KeyCode
	// KeyGrid keys by an exterior grid coordinate pair (INTV subrecord).
	KeyGrid
	// KeyCell marks cell records, which the cell engine keys itself.
	KeyCell
)

// KindPolicy describes how the merge pipeline treats one record kind.
type KindPolicy struct {
	Key KeyKind

	// Simple kinds overwrite their slot in place on change instead of
	// retaining history (unless debug retention is requested).
	Simple bool

	// Leveled marks the two leveled-list kinds that every mode except
	// CompleteReplace protects from collapse.
	Leveled bool

	// Land marks landscape records, replace-only under KeepWithoutLands.
	Land bool

	// Dialogue marks topic records, emitted in two partitions.
	Dialogue bool
}

// kindPolicies is the closed policy table. EmitOrder below fixes the
// relative emission order of kinds in assembled output.
var kindPolicies = map[Tag]KindPolicy{
	TagHeader:    {Key: KeyNone},
	TagGameSet:   {Key: KeyName, Simple: true},
	TagGlobal:    {Key: KeyName},
	TagClass:     {Key: KeyName},
	TagFaction:   {Key: KeyName},
	TagRace:      {Key: KeyName},
	TagSound:     {Key: KeyName},
	TagSoundGen:  {Key: KeyName},
	TagSkill:     {Key: KeyCode, Simple: true},
	TagMagicFx:   {Key: KeyCode, Simple: true},
	TagScript:    {Key: KeyName},
	TagRegion:    {Key: KeyName},
	TagBirthsign: {Key: KeyName},
	TagStartScr:  {Key: KeyName, Simple: true},
	TagLandTex:   {Key: KeyName},
	TagStatic:    {Key: KeyName},
	TagDoor:      {Key: KeyName},
	TagMisc:      {Key: KeyName},
	TagWeapon:    {Key: KeyName},
	TagContainer: {Key: KeyName},
	TagSpell:     {Key: KeyName},
	TagCreature:  {Key: KeyName},
	TagBodyPart:  {Key: KeyName},
	TagLight:     {Key: KeyName},
	TagEnchant:   {Key: KeyName},
	TagNPC:       {Key: KeyName},
	TagArmor:     {Key: KeyName},
	TagClothing:  {Key: KeyName},
	TagRepair:    {Key: KeyName},
	TagActivator: {Key: KeyName},
	TagApparatus: {Key: KeyName},
	TagLockpick:  {Key: KeyName},
	TagProbe:     {Key: KeyName},
	TagIngred:    {Key: KeyName},
	TagBook:      {Key: KeyName},
	TagAlchemy:   {Key: KeyName},
	TagLevItem:   {Key: KeyName, Leveled: true},
	TagLevCrea:   {Key: KeyName, Leveled: true},
	TagCell:      {Key: KeyCell},
	TagLand:      {Key: KeyGrid, Land: true},
	TagPathGrid:  {Key: KeyName},
	TagDialogue:  {Key: KeyName, Dialogue: true},
	TagInfo:      {Key: KeyName},
}

// EmitOrder fixes the order record kinds appear in assembled output.
// The header is synthesized separately and always emitted first.
var EmitOrder = []Tag{
	TagGameSet, TagGlobal, TagClass, TagFaction, TagRace, TagSound,
	TagSoundGen, TagSkill, TagMagicFx, TagScript, TagRegion,
	TagBirthsign, TagStartScr, TagLandTex, TagStatic, TagDoor, TagMisc,
	TagWeapon, TagContainer, TagSpell, TagCreature, TagBodyPart,
	TagLight, TagEnchant, TagNPC, TagArmor, TagClothing, TagRepair,
	TagActivator, TagApparatus, TagLockpick, TagProbe, TagIngred,
	TagBook, TagAlchemy, TagLevItem, TagLevCrea, TagCell, TagLand,
	TagPathGrid, TagDialogue, TagInfo,
}

// PolicyFor returns the kind policy for a tag.
// The bool result is false for tags outside the closed set.
func PolicyFor(tag Tag) (KindPolicy, bool) {
	p, ok := kindPolicies[tag]
	return p, ok
}

// Known reports whether the tag belongs to the closed kind set.
func Known(tag Tag) bool {
	_, ok := kindPolicies[tag]
	return ok
}

// ParseTag validates a raw four-byte tag read from a stream.
func ParseTag(raw []byte) (Tag, error) {
	if len(raw) != 4 {
		return "", fmt.Errorf("tag must be 4 bytes, got %d", len(raw))
	}
	for _, b := range raw {
		if b < 0x20 || b > 0x7e {
			return "", fmt.Errorf("tag contains non-printable byte 0x%02x", b)
		}
	}
	return Tag(raw), nil
}
