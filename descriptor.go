package bluetoe

// A Descriptor is an application-defined characteristic descriptor
// beyond the CCCD and Characteristic User Description the builder
// manages automatically.
type Descriptor struct {
	uuid   UUID
	value  []byte
	handle uint16
}

func (d *Descriptor) UUID() UUID     { return d.uuid }
func (d *Descriptor) Value() []byte  { return d.value }
func (d *Descriptor) Handle() uint16 { return d.handle }
