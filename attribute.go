package bluetoe

// An AccessOp selects which operation an attribute's access function
// is being asked to perform. It mirrors the three variants an
// attribute's access_fn must accept per the ATT attribute model: a
// read, a write, or a cheap equality compare against a candidate value
// (used by Find By Type Value, which only needs to know whether a
// characteristic's value matches, not read the whole value out).
type AccessOp int

const (
	OpRead AccessOp = iota
	OpWrite
	OpCompareValue
)

// AttributeAccessResult is the outcome of an attribute access. Handler
// authors use the Status* constants; the att dispatcher translates
// the remainder into ATT error responses.
type AttributeAccessResult byte

const (
	StatusSuccess                     AttributeAccessResult = 0x00
	StatusInvalidHandle               AttributeAccessResult = 0x01
	StatusReadNotPermitted            AttributeAccessResult = 0x02
	StatusWriteNotPermitted           AttributeAccessResult = 0x03
	StatusInvalidOffset               AttributeAccessResult = 0x07
	StatusAttributeNotLong            AttributeAccessResult = 0x0b
	StatusInvalidAttributeValueLength AttributeAccessResult = 0x0d
	StatusUnexpectedError             AttributeAccessResult = 0x0e
	StatusInsufficientAuthentication  AttributeAccessResult = 0x05
	StatusInsufficientEncryption      AttributeAccessResult = 0x0f

	// valueEqual and valueNotEqual are not ATT wire error codes; they
	// are the two outcomes of an OpCompareValue access and never
	// escape into an error response.
	valueEqual    AttributeAccessResult = 0xf0
	valueNotEqual AttributeAccessResult = 0xf1
)

// IsApplicationError reports whether r is one of the reserved
// application-defined error codes (0x80-0x9F), which handler authors
// may return to signal domain-specific failures.
func (r AttributeAccessResult) IsApplicationError() bool {
	return r >= 0x80 && r <= 0x9f
}

// ApplicationError builds an application-defined AttributeAccessResult.
// code must be in [0, 0x1f]; it is added to the reserved 0x80 base.
func ApplicationError(code byte) AttributeAccessResult {
	return AttributeAccessResult(0x80 + code&0x1f)
}

// AccessRequest is the context passed to an attribute's access
// function: which operation, at what offset, touching what buffer, on
// behalf of which connection.
type AccessRequest struct {
	Op     AccessOp
	Offset int

	// Buffer holds the value to write (OpWrite) or to compare against
	// (OpCompareValue). For OpRead the access function writes its
	// result into Out instead.
	Buffer []byte

	// Out receives the attribute's value for OpRead, clipped by the
	// caller to the maximum permitted length (MTU-aware).
	Out *AttributeValueWriter

	Conn *Conn
}

// AttributeValueWriter accumulates a read result up to a fixed
// capacity, mirroring paypal-gatt's readResponseWriter but used
// internally by the attribute dispatcher rather than exposed whole to
// handler authors (who see the narrower ReadResponseWriter instead).
type AttributeValueWriter struct {
	cap int
	buf []byte
}

func newAttributeValueWriter(capacity int) *AttributeValueWriter {
	return &AttributeValueWriter{cap: capacity}
}

func (w *AttributeValueWriter) Write(b []byte) (int, error) {
	avail := w.cap - len(w.buf)
	if avail < len(b) {
		b = b[:avail]
	}
	w.buf = append(w.buf, b...)
	return len(b), nil
}

func (w *AttributeValueWriter) Bytes() []byte { return w.buf }

// AccessFn is the polymorphic attribute access operation: a pair
// (uuid, access_fn) is what an Attribute is, per the attribute data
// model. It returns an AttributeAccessResult.
type AccessFn func(req *AccessRequest) AttributeAccessResult

// attributeType distinguishes the handle-table roles used by the ATT
// dispatcher to answer Find Information / Read By Type / Read By
// Group Type without re-deriving structure from UUIDs at request time.
type attributeType int

const (
	typService attributeType = iota
	typIncludedService
	typCharacteristicDecl
	typCharacteristicValue
	typDescriptor
)

// attribute is one entry of the flattened, compile-time-composed
// attribute database. handle is 1-based and monotonically increasing
// across the whole database; fixed-handle declarations may introduce
// gaps, but never reorder.
type attribute struct {
	handle    uint16
	uuid      UUID
	typ       attributeType
	access    AccessFn
	groupEnd  uint16 // for typService/typIncludedService: end of the group
	valueOf   uint16 // for typCharacteristicDecl: its value attribute's handle
	declOf    uint16 // for typCharacteristicValue/typDescriptor: owning characteristic decl handle
	props     uint8  // for typCharacteristicDecl/typCharacteristicValue: characteristic properties
	secure    AttributeAccessResult
	cccdIndex int // >=0 if this attribute is a CCCD, index into the per-connection CCCD bitmap
}

const (
	noCCCDIndex = -1
)

// attributeTypeUUID returns the ATT attribute TYPE of a, as reported
// by Find Information and matched by Find By Type Value. For a
// service declaration this is the grouping UUID (0x2800/0x2801), not
// the service's own UUID: a.uuid holds the latter so Read By Group
// Type and Find By Type Value can use it directly as the attribute's
// value without a second lookup.
func attributeTypeUUID(a attribute) UUID {
	switch a.typ {
	case typService:
		return primaryServiceUUID
	case typIncludedService:
		return secondaryServiceUUID
	default:
		return a.uuid
	}
}

// attrRange is an ordered, possibly-sparse table of attributes
// indexed by handle. It is the database's sole lookup structure: the
// att dispatcher never walks service/characteristic builder objects
// directly once the server has started.
type attrRange struct {
	aa []attribute
}

// at returns the attribute with handle h, if the database contains one.
func (r *attrRange) at(h uint16) (attribute, bool) {
	// Handles are sorted and (mostly) dense; binary search tolerates
	// the sparse gaps left by fixed-handle declarations.
	lo, hi := 0, len(r.aa)
	for lo < hi {
		mid := (lo + hi) / 2
		if r.aa[mid].handle < h {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(r.aa) && r.aa[lo].handle == h {
		return r.aa[lo], true
	}
	return attribute{}, false
}

// subrange returns the attributes whose handle falls in [start, end].
func (r *attrRange) subrange(start, end uint16) []attribute {
	if start > end {
		return nil
	}
	lo := sortSearch(r.aa, start)
	hi := len(r.aa)
	if end != 0xffff {
		hi = sortSearch(r.aa, end+1)
	}
	if hi < lo {
		return nil
	}
	return r.aa[lo:hi]
}

func sortSearch(aa []attribute, h uint16) int {
	lo, hi := 0, len(aa)
	for lo < hi {
		mid := (lo + hi) / 2
		if aa[mid].handle < h {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// lastHandle returns the highest assigned handle, or 0 for an empty database.
func (r *attrRange) lastHandle() uint16 {
	if len(r.aa) == 0 {
		return 0
	}
	return r.aa[len(r.aa)-1].handle
}
