package bluetoe

// ATT opcodes, Core Spec Vol 3, Part F, 3.4.
const (
	attOpError               = 0x01
	attOpMtuReq              = 0x02
	attOpMtuResp             = 0x03
	attOpFindInfoReq         = 0x04
	attOpFindInfoResp        = 0x05
	attOpFindByTypeReq       = 0x06
	attOpFindByTypeResp      = 0x07
	attOpReadByTypeReq       = 0x08
	attOpReadByTypeResp      = 0x09
	attOpReadReq             = 0x0a
	attOpReadResp            = 0x0b
	attOpReadBlobReq         = 0x0c
	attOpReadBlobResp        = 0x0d
	attOpReadMultiReq        = 0x0e
	attOpReadMultiResp       = 0x0f
	attOpReadByGroupReq      = 0x10
	attOpReadByGroupResp     = 0x11
	attOpWriteReq            = 0x12
	attOpWriteResp           = 0x13
	attOpWriteCmd            = 0x52
	attOpPrepWriteReq        = 0x16
	attOpPrepWriteResp       = 0x17
	attOpExecWriteReq        = 0x18
	attOpExecWriteResp       = 0x19
	attOpHandleNotify        = 0x1b
	attOpHandleIndicate      = 0x1d
	attOpHandleConfirm       = 0x1e
	attOpSignedWriteCmd      = 0xd2
)

// defaultATTMTU is ATT_MTU before Exchange MTU negotiates anything
// larger, Core Spec Vol 3, Part F, 3.2.8.
const defaultATTMTU = 23

// maxSupportedATTMTU bounds how large a Server will ever negotiate,
// matching the 247-octet ceiling used throughout the link layer PDU sizing.
const maxSupportedATTMTU = 247

func attErrorPDU(opcode byte, handle uint16, status AttributeAccessResult) []byte {
	return []byte{attOpError, opcode, byte(handle), byte(handle >> 8), byte(status)}
}
