package bluetoe

// A Service is a BLE primary service: a UUID plus an ordered list of
// characteristics. AddCharacteristic must be called before the
// service is used by a Server.
type Service struct {
	uuid       UUID
	secondary  bool
	chars      []*Characteristic
	startHandl uint16
	endHandle  uint16
}

// AddCharacteristic adds a characteristic to the service. It panics
// if the service already contains a characteristic with the same
// UUID, matching the teacher library's own guard against accidental
// duplicate declarations.
func (s *Service) AddCharacteristic(u UUID) *Characteristic {
	for _, c := range s.chars {
		if c.uuid.Equal(u) {
			panic("bluetoe: service already contains a characteristic with uuid " + u.String())
		}
	}
	c := &Characteristic{service: s, uuid: u, cccdIdx: noCCCDIndex, notifyPriority: -1}
	s.chars = append(s.chars, c)
	return c
}

// UUID returns the service's UUID.
func (s *Service) UUID() UUID { return s.uuid }

// StartHandle and EndHandle return the service's handle range.
// Valid only after the owning Server has built its attribute database.
func (s *Service) StartHandle() uint16 { return s.startHandl }
func (s *Service) EndHandle() uint16   { return s.endHandle }
