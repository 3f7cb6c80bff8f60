package types

import "fmt"

// MetadataValueKind tags the concrete type carried by a MetadataValue.
type MetadataValueKind int

const (
	MetadataString MetadataValueKind = iota
	MetadataInt
	MetadataFloat
	MetadataBool
)

// MetadataValue is a small tagged union mirroring the declared-schema
// value types a record's metadata can hold. A schema mismatch (e.g.
// assigning a string where the collection declared int) is the
// materializer's MetadataMaterialization failure mode.
type MetadataValue struct {
	Kind MetadataValueKind
	Str  string
	Int  int64
	Flt  float64
	Bool bool
}

func StringValue(s string) MetadataValue { return MetadataValue{Kind: MetadataString, Str: s} }
func IntValue(i int64) MetadataValue     { return MetadataValue{Kind: MetadataInt, Int: i} }
func FloatValue(f float64) MetadataValue { return MetadataValue{Kind: MetadataFloat, Flt: f} }
func BoolValue(b bool) MetadataValue     { return MetadataValue{Kind: MetadataBool, Bool: b} }

// SameKind reports whether two values share a declared type. The
// materializer does not call it; it merges metadata values unchecked.
func (v MetadataValue) SameKind(other MetadataValue) bool {
	return v.Kind == other.Kind
}

func (v MetadataValue) String() string {
	switch v.Kind {
	case MetadataString:
		return v.Str
	case MetadataInt:
		return fmt.Sprintf("%d", v.Int)
	case MetadataFloat:
		return fmt.Sprintf("%g", v.Flt)
	case MetadataBool:
		return fmt.Sprintf("%t", v.Bool)
	default:
		return "<invalid>"
	}
}

// Metadata is a record's key/value metadata map.
type Metadata map[string]MetadataValue

// Clone returns a shallow copy (values are immutable, so a shallow copy
// of the map is sufficient to avoid aliasing mutation).
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// UpdateMetadata is the metadata payload carried by an incoming log
// record: a nil entry means "delete this key", a non-nil entry means
// "set this key to this value". This mirrors the null-valued-key
// convention the materializer uses to decide to-merge vs to-delete.
type UpdateMetadata map[string]*MetadataValue
