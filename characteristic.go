package bluetoe

import "fmt"

// Characteristic property flags, as they appear on the wire in the
// characteristic declaration's properties octet (Core Spec Vol 3,
// Part G, 3.3.1.1). Do not renumber these; the bit positions are
// mandated, not an implementation choice.
const (
	PropBroadcast                 = 0x01
	PropRead                      = 0x02
	PropWriteWithoutResponse      = 0x04
	PropWrite                     = 0x08
	PropNotify                    = 0x10
	PropIndicate                  = 0x20
	PropAuthenticatedSignedWrites = 0x40
	PropExtendedProperties        = 0x80
)

// A Request is the context for a request from a connected central.
type Request struct {
	Conn           *Conn
	Service        *Service
	Characteristic *Characteristic
}

// A ReadRequest is a characteristic read request from a connected central.
type ReadRequest struct {
	Request
	Cap    int // maximum allowed reply length, already clipped to the negotiated MTU
	Offset int
}

// ReadResponseWriter lets a ReadHandler produce a characteristic's
// current value.
type ReadResponseWriter interface {
	// Write writes data to return as the characteristic value.
	Write([]byte) (int, error)
	// SetStatus reports the result of the read. See the Status* constants.
	SetStatus(AttributeAccessResult)
}

// A ReadHandler handles GATT read requests.
type ReadHandler interface {
	ServeRead(resp ReadResponseWriter, req *ReadRequest)
}

// ReadHandlerFunc adapts an ordinary function to a ReadHandler.
type ReadHandlerFunc func(resp ReadResponseWriter, req *ReadRequest)

func (f ReadHandlerFunc) ServeRead(resp ReadResponseWriter, req *ReadRequest) { f(resp, req) }

// A WriteHandler handles GATT write and write-without-response
// requests; the server guarantees a response is sent only when
// appropriate, so the handler need not distinguish the two.
type WriteHandler interface {
	ServeWrite(r Request, data []byte) (status AttributeAccessResult)
}

// WriteHandlerFunc adapts an ordinary function to a WriteHandler.
type WriteHandlerFunc func(r Request, data []byte) AttributeAccessResult

func (f WriteHandlerFunc) ServeWrite(r Request, data []byte) AttributeAccessResult {
	return f(r, data)
}

// A Characteristic is a BLE characteristic: a value attribute plus an
// optional CCCD, user description, and extra descriptors.
type Characteristic struct {
	uuid    UUID
	props   uint8
	secure  AttributeAccessResult // non-zero: requires this much security for every access
	value   []byte                // static value, if no handler was installed
	descs   []*Descriptor
	handle  uint16 // the value attribute's handle, set once the server builds the database
	cccdIdx int    // index into the per-connection CCCD bitmap, or noCCCDIndex

	rhandler ReadHandler
	whandler WriteHandler

	userDescription string
	fixedHandle     uint16 // 0 means "assign densely"

	// notifyPriority is the notify/indicate outgoing priority bucket,
	// per higher_outgoing_priority<UUID>. -1 means "unset": the builder
	// assigns the characteristic its own, uniquely-ordered bucket by
	// declaration order instead of sharing one with another
	// characteristic. See SetNotificationPriority.
	notifyPriority int

	service *Service
}

// HandleRead makes the characteristic support read requests, routed
// to h. Must be called before the server starts.
func (c *Characteristic) HandleRead(h ReadHandler) {
	c.props |= PropRead
	c.rhandler = h
}

// HandleReadFunc calls HandleRead(ReadHandlerFunc(f)).
func (c *Characteristic) HandleReadFunc(f func(resp ReadResponseWriter, req *ReadRequest)) {
	c.HandleRead(ReadHandlerFunc(f))
}

// HandleWrite makes the characteristic support write and
// write-without-response requests, routed to h. Must be called before
// the server starts.
func (c *Characteristic) HandleWrite(h WriteHandler) {
	c.props |= PropWrite | PropWriteWithoutResponse
	c.whandler = h
}

// HandleWriteFunc calls HandleWrite(WriteHandlerFunc(f)).
func (c *Characteristic) HandleWriteFunc(f func(r Request, data []byte) AttributeAccessResult) {
	c.HandleWrite(WriteHandlerFunc(f))
}

// SetValue gives the characteristic a static value and makes it
// readable. Mutually exclusive with HandleRead.
func (c *Characteristic) SetValue(v []byte) {
	c.props |= PropRead
	c.value = v
}

// EnableNotify enables notifications for the characteristic and
// reserves a CCCD slot. The actual notify/indicate traffic flows
// through the connection's Notify/Indicate methods, not a handler.
func (c *Characteristic) EnableNotify() {
	c.props |= PropNotify
}

// EnableIndicate enables indications for the characteristic and
// reserves a CCCD slot.
func (c *Characteristic) EnableIndicate() {
	c.props |= PropIndicate
}

// SetNotificationPriority assigns this characteristic's notify/indicate
// outgoing priority bucket, per higher_outgoing_priority<UUID>: lower
// values are serviced first, and two characteristics given the same
// priority drain FIFO relative to each other instead of by declaration
// order. Characteristics that never call this get their own bucket,
// ordered by declaration order, as before. Must be called before the
// server starts.
func (c *Characteristic) SetNotificationPriority(p int) {
	c.notifyPriority = p
}

// RequireEncryption marks every access to this characteristic as
// requiring an encrypted connection; a read or write over an
// unencrypted link fails with StatusInsufficientEncryption.
func (c *Characteristic) RequireEncryption() {
	c.secure = StatusInsufficientEncryption
}

// RequireAuthentication marks every access to this characteristic as
// requiring an authenticated (not just encrypted) connection.
func (c *Characteristic) RequireAuthentication() {
	c.secure = StatusInsufficientAuthentication
}

// SetUserDescription adds a Characteristic User Description
// descriptor (UUID 0x2901) with the given read-only text.
func (c *Characteristic) SetUserDescription(s string) {
	c.userDescription = s
}

// SetFixedHandle pins the characteristic's value attribute to handle
// h instead of letting the builder assign it densely. Fixed handles
// may leave gaps in the handle table; see spec §4.7.
func (c *Characteristic) SetFixedHandle(h uint16) {
	c.fixedHandle = h
}

// AddDescriptor adds an extra, application-defined descriptor.
func (c *Characteristic) AddDescriptor(u UUID, value []byte) *Descriptor {
	d := &Descriptor{uuid: u, value: value}
	c.descs = append(c.descs, d)
	return d
}

// UUID returns the characteristic's UUID.
func (c *Characteristic) UUID() UUID { return c.uuid }

// Handle returns the characteristic's value-attribute handle. Valid
// only after the owning Server has built its attribute database.
func (c *Characteristic) Handle() uint16 { return c.handle }

func (c *Characteristic) String() string {
	return fmt.Sprintf("characteristic %s (props=0x%02x)", c.uuid, c.props)
}
