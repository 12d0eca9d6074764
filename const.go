package bluetoe

// This file collects constants from the Bluetooth GATT specification
// that the attribute database builder needs: the grouping/declaration
// UUIDs used to flatten services into attributes, and the mandatory
// GAP service's own characteristic UUIDs and defaults.

var (
	gapServiceUUID  = UUID16(0x1800)
	gattServiceUUID = UUID16(0x1801)

	primaryServiceUUID   = UUID16(0x2800)
	secondaryServiceUUID = UUID16(0x2801)
	includeUUID          = UUID16(0x2802)
	characteristicUUID   = UUID16(0x2803)

	cccdUUID = UUID16(0x2902)
	cudUUID  = UUID16(0x2901) // Characteristic User Description

	deviceNameUUID = UUID16(0x2a00)
	appearanceUUID = UUID16(0x2a01)
)

// cccdNotifyBit and cccdIndicateBit are the two bits writable in a
// Client Characteristic Configuration Descriptor's 16-bit value.
const (
	cccdNotifyBit   = 0x0001
	cccdIndicateBit = 0x0002
)

// defaultDeviceName is used when Server.Name is empty.
const defaultDeviceName = "Bluetoe-Server"

// appearanceUnknown is the GAP Appearance value meaning "unknown".
var appearanceUnknown = []byte{0x00, 0x00}
