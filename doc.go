// Package bluetoe builds Bluetooth Low Energy GATT servers for
// resource-constrained peripherals.
//
// Bluetoe composes a service/characteristic declaration into a flat
// attribute database, then drives that database from a connection
// engine that talks to a radio through the small ScheduledRadio
// contract in package radio. Unlike a host-side BLE stack, there is no
// scanning, no central role, and no dynamic service discovery: bluetoe
// is a single peripheral connection, advertising until a central
// connects and returning to advertising when it disconnects.
//
// SETUP
//
// Bluetoe does not talk to hardware itself. A radio.ScheduledRadio
// implementation is supplied by the embedder (a real radio driver, or
// the in-memory radio.Loopback used by tests and the cmd/bluetoed
// example). The server is constructed by declaring services and
// characteristics, then starting the link layer:
//
//	srv := &bluetoe.Server{Name: "bluetoe-lamp"}
//	svc := srv.AddService(bluetoe.MustParseUUID("0000ff00-0000-1000-8000-00805f9b34fb"))
//
//	on := false
//	c := svc.AddCharacteristic(bluetoe.MustParseUUID("0000ff01-0000-1000-8000-00805f9b34fb"))
//	c.HandleReadFunc(func(resp bluetoe.ReadResponseWriter, req *bluetoe.ReadRequest) {
//		if on {
//			resp.Write([]byte{1})
//		} else {
//			resp.Write([]byte{0})
//		}
//	})
//	c.HandleWriteFunc(func(r bluetoe.Request, data []byte) bluetoe.AttributeAccessResult {
//		if len(data) != 1 {
//			return bluetoe.StatusUnexpectedError
//		}
//		on = data[0] != 0
//		return bluetoe.StatusSuccess
//	})
//
//	lnk, err := srv.Start(myScheduledRadio, myDeviceAddress)
//
// REFERENCES
//
// Bluetoe's attribute database model, wire opcodes and connection
// state machine follow the Bluetooth Core Specification's Generic
// Attribute Profile (GATT) and Link Layer, peripheral role only.
package bluetoe
