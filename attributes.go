package bluetoe

import "sort"

// database is the built, immutable-after-Start representation of a
// Server's attribute table plus the bookkeeping needed to route CCCD
// reads/writes and notification priorities.
type database struct {
	attrs *attrRange

	// cccdPriority[i] is the notification/indication priority for CCCD
	// slot i, mirroring higher_outgoing_priority<UUID>. Defaults to
	// declaration order (lowest index declared first gets the lowest,
	// highest-precedence value), but a characteristic that calls
	// SetNotificationPriority shares its bucket with any other
	// characteristic given the same value instead of getting one of
	// its own.
	cccdPriority []int

	// cccdValueHandle[i] is the value-attribute handle whose
	// characteristic owns CCCD slot i, so a dequeued notify queue
	// index can be turned back into an attribute to read.
	cccdValueHandle []uint16

	services []*Service
}

// buildDatabase flattens services (plus, unless noGAP, the mandatory
// GAP service and an empty GATT service) into a handle-ordered
// attrRange. Handles are assigned densely starting at 1, except where
// a characteristic requested SetFixedHandle, which may leave gaps.
func buildDatabase(deviceName string, appearance []byte, services []*Service, noGAP bool) *database {
	all := make([]*Service, 0, len(services)+2)
	if !noGAP {
		all = append(all, buildGAPService(deviceName, appearance))
		all = append(all, buildGATTService())
	}
	all = append(all, services...)

	var attrs []attribute
	var cccdPriority []int
	var cccdValueHandle []uint16
	handle := uint16(1)

	nextHandle := func(fixed uint16) uint16 {
		if fixed != 0 {
			if fixed > handle {
				handle = fixed
			}
		}
		h := handle
		handle++
		return h
	}

	for _, svc := range all {
		svcHandle := nextHandle(0)
		svcType := typService
		if svc.secondary {
			svcType = typIncludedService
		}
		svcAttr := attribute{
			handle: svcHandle,
			uuid:   svc.uuid,
			typ:    svcType,
			access: constValueAccess(svc.uuid.Bytes()),
		}
		attrs = append(attrs, svcAttr)
		svc.startHandl = svcHandle

		for _, ch := range svc.chars {
			declHandle := nextHandle(0)
			valHandle := nextHandle(ch.fixedHandle)
			ch.handle = valHandle

			attrs = append(attrs, attribute{
				handle:  declHandle,
				uuid:    characteristicUUID,
				typ:     typCharacteristicDecl,
				valueOf: valHandle,
				props:   ch.props,
				access:  characteristicDeclAccess(ch),
			})
			attrs = append(attrs, attribute{
				handle: valHandle,
				uuid:   ch.uuid,
				typ:    typCharacteristicValue,
				declOf: declHandle,
				props:  ch.props,
				secure: ch.secure,
				access: characteristicValueAccess(ch),
			})

			if ch.props&(PropNotify|PropIndicate) != 0 {
				cccdHandle := nextHandle(0)
				idx := len(cccdPriority)
				ch.cccdIdx = idx
				priority := idx
				if ch.notifyPriority >= 0 {
					priority = ch.notifyPriority
				}
				cccdPriority = append(cccdPriority, priority)
				cccdValueHandle = append(cccdValueHandle, valHandle)
				attrs = append(attrs, attribute{
					handle:    cccdHandle,
					uuid:      cccdUUID,
					typ:       typDescriptor,
					declOf:    declHandle,
					cccdIndex: idx,
					access:    cccdAccess(idx),
				})
			}

			if ch.userDescription != "" {
				udHandle := nextHandle(0)
				attrs = append(attrs, attribute{
					handle: udHandle,
					uuid:   cudUUID,
					typ:    typDescriptor,
					declOf: declHandle,
					access: constValueAccess([]byte(ch.userDescription)),
				})
			}

			for _, d := range ch.descs {
				dHandle := nextHandle(0)
				d.handle = dHandle
				attrs = append(attrs, attribute{
					handle: dHandle,
					uuid:   d.uuid,
					typ:    typDescriptor,
					declOf: declHandle,
					access: constValueAccess(d.value),
				})
			}
		}

		svc.endHandle = handle - 1
		for i := range attrs {
			if attrs[i].handle == svcHandle {
				attrs[i].groupEnd = svc.endHandle
			}
		}
	}

	sort.Slice(attrs, func(i, j int) bool { return attrs[i].handle < attrs[j].handle })

	return &database{
		attrs:           &attrRange{aa: attrs},
		cccdPriority:    cccdPriority,
		cccdValueHandle: cccdValueHandle,
		services:        all,
	}
}

func buildGAPService(name string, appearance []byte) *Service {
	svc := &Service{uuid: gapServiceUUID}
	nameChar := svc.AddCharacteristic(deviceNameUUID)
	nameChar.SetValue([]byte(name))
	appChar := svc.AddCharacteristic(appearanceUUID)
	appChar.SetValue(appearance)
	return svc
}

func buildGATTService() *Service {
	return &Service{uuid: gattServiceUUID}
}

func constValueAccess(value []byte) AccessFn {
	return func(req *AccessRequest) AttributeAccessResult {
		switch req.Op {
		case OpRead:
			if req.Offset > len(value) {
				return StatusInvalidOffset
			}
			req.Out.Write(value[req.Offset:])
			return StatusSuccess
		case OpCompareValue:
			if bytesEqual(value, req.Buffer) {
				return valueEqual
			}
			return valueNotEqual
		default:
			return StatusWriteNotPermitted
		}
	}
}

func characteristicDeclAccess(ch *Characteristic) AccessFn {
	return func(req *AccessRequest) AttributeAccessResult {
		if req.Op != OpRead {
			return StatusWriteNotPermitted
		}
		body := make([]byte, 0, 3+len(ch.uuid.Bytes()))
		body = append(body, ch.props, byte(ch.handle), byte(ch.handle>>8))
		body = append(body, ch.uuid.Bytes()...)
		if req.Offset > len(body) {
			return StatusInvalidOffset
		}
		req.Out.Write(body[req.Offset:])
		return StatusSuccess
	}
}

func characteristicValueAccess(ch *Characteristic) AccessFn {
	return func(req *AccessRequest) AttributeAccessResult {
		if ch.secure != StatusSuccess && req.Conn != nil {
			if ch.secure == StatusInsufficientAuthentication && !req.Conn.Authenticated() {
				return ch.secure
			}
			if ch.secure == StatusInsufficientEncryption && !req.Conn.Encrypted() {
				return ch.secure
			}
		}
		switch req.Op {
		case OpRead:
			if ch.rhandler != nil {
				w := newAttributeValueWriter(req.Out.cap - len(req.Out.buf))
				rr := &ReadRequest{
					Request: Request{Conn: req.Conn, Characteristic: ch},
					Cap:     w.cap,
					Offset:  req.Offset,
				}
				adapter := &readResponseAdapter{w: w, status: StatusSuccess}
				ch.rhandler.ServeRead(adapter, rr)
				if adapter.status != StatusSuccess {
					return adapter.status
				}
				req.Out.Write(w.Bytes())
				return StatusSuccess
			}
			if ch.props&PropRead == 0 {
				return StatusReadNotPermitted
			}
			if req.Offset > len(ch.value) {
				return StatusInvalidOffset
			}
			req.Out.Write(ch.value[req.Offset:])
			return StatusSuccess
		case OpWrite:
			if ch.whandler == nil || ch.props&(PropWrite|PropWriteWithoutResponse) == 0 {
				return StatusWriteNotPermitted
			}
			return ch.whandler.ServeWrite(Request{Conn: req.Conn, Characteristic: ch}, req.Buffer)
		case OpCompareValue:
			if bytesEqual(ch.value, req.Buffer) {
				return valueEqual
			}
			return valueNotEqual
		}
		return StatusUnexpectedError
	}
}

func cccdAccess(idx int) AccessFn {
	return func(req *AccessRequest) AttributeAccessResult {
		switch req.Op {
		case OpRead:
			v := req.Conn.cccdValue(idx)
			req.Out.Write([]byte{byte(v), byte(v >> 8)})
			return StatusSuccess
		case OpWrite:
			if len(req.Buffer) != 2 {
				return StatusInvalidAttributeValueLength
			}
			v := uint16(req.Buffer[0]) | uint16(req.Buffer[1])<<8
			req.Conn.setCCCDValue(idx, v)
			return StatusSuccess
		default:
			return StatusWriteNotPermitted
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// readResponseAdapter adapts the internal AttributeValueWriter to the
// narrower ReadResponseWriter interface exposed to handler authors.
type readResponseAdapter struct {
	w      *AttributeValueWriter
	status AttributeAccessResult
}

func (a *readResponseAdapter) Write(b []byte) (int, error) { return a.w.Write(b) }
func (a *readResponseAdapter) SetStatus(s AttributeAccessResult) { a.status = s }
