package tensor

// Precision is the element type tag carried by a Buffer. The values match
// the integer tags of the plugin ABI and are passed through it unchanged.
type Precision int32

// Precision tags understood by the plugin ABI.
const (
	Unspecified Precision = iota
	FP32
	FP16
	U8
	I8
	I16
	U16
	I32
	FP64
	I64
)

// Size returns the byte size of one element, or 0 when the precision is
// unspecified or unknown.
func (p Precision) Size() int {
	switch p {
	case U8, I8:
		return 1
	case FP16, I16, U16:
		return 2
	case FP32, I32:
		return 4
	case FP64, I64:
		return 8
	default:
		return 0
	}
}

// String returns a human-readable name for the precision.
func (p Precision) String() string {
	switch p {
	case FP32:
		return "FP32"
	case FP16:
		return "FP16"
	case U8:
		return "U8"
	case I8:
		return "I8"
	case I16:
		return "I16"
	case U16:
		return "U16"
	case I32:
		return "I32"
	case FP64:
		return "FP64"
	case I64:
		return "I64"
	default:
		return "UNSPECIFIED"
	}
}

// ParsePrecision maps a precision name back to its tag.
func ParsePrecision(s string) (Precision, bool) {
	for p := FP32; p <= I64; p++ {
		if p.String() == s {
			return p, true
		}
	}
	return Unspecified, false
}
