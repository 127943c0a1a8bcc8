package event

// Class is the persistence contract a kind falls under.
type Class int

const (
	// ClassRegular events are independent immutable facts. Every
	// delivered instance is retained; there is nothing to "resolve".
	ClassRegular Class = iota

	// ClassReplaceable events supersede older events with the same
	// (author, kind, discriminator). Only the newest is current.
	ClassReplaceable

	// ClassEphemeral events carry no persistence contract. The store
	// notifies subscribers but never writes them to disk.
	ClassEphemeral
)

// String implements fmt.Stringer.
func (c Class) String() string {
	switch c {
	case ClassRegular:
		return "regular"
	case ClassReplaceable:
		return "replaceable"
	case ClassEphemeral:
		return "ephemeral"
	default:
		return "unknown"
	}
}

// KindRange maps a half-open kind interval [Lo, Hi) to a Class.
type KindRange struct {
	Lo    int   `yaml:"lo"`
	Hi    int   `yaml:"hi"`
	Class Class `yaml:"-"`
}

// KindRanges is the configured kind-numbering convention. The store's
// merge behavior is selected purely by which range a kind falls in;
// no entity type is hard-coded.
type KindRanges []KindRange

// ClassOf returns the Class for a kind. Kinds outside every configured
// range are regular.
func (r KindRanges) ClassOf(kind int) Class {
	for _, kr := range r {
		if kind >= kr.Lo && kind < kr.Hi {
			return kr.Class
		}
	}
	return ClassRegular
}

// DefaultRanges returns the relay-convention ranges:
// ephemeral [20000, 30000), replaceable [30000, 40000), regular
// everywhere else.
func DefaultRanges() KindRanges {
	return KindRanges{
		{Lo: 20000, Hi: 30000, Class: ClassEphemeral},
		{Lo: 30000, Hi: 40000, Class: ClassReplaceable},
	}
}
