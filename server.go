package bluetoe

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/bluetoe/bluetoe/linklayer"
	"github.com/bluetoe/bluetoe/radio"
	"github.com/bluetoe/bluetoe/securitymgr"
)

// defaultPreparedWriteQueueSize matches the upstream bluetoe's own
// modest default: enough for a handful of prepared writes without
// requiring the embedder to size a queue explicitly.
const defaultPreparedWriteQueueSize = 4

// A Server declares a GATT attribute database and, once Start is
// called, drives it over a single peripheral connection. Servers are
// single-shot: call Start once per Server value.
type Server struct {
	// Name is the device name exposed via the Generic Access Service
	// (0x1800), unless NoGAPService is set. Defaults to
	// "Bluetoe-Server" if empty.
	Name string

	// Appearance is the 16-bit GAP Appearance value (0x2A01). Defaults
	// to 0x0000 (unknown).
	Appearance uint16

	// NoGAPService suppresses the mandatory GAP/GATT services,
	// matching the upstream's no_gap_service_for_gatt_servers option.
	NoGAPService bool

	// MaxMTU bounds the ATT_MTU this server will ever negotiate.
	// Defaults to 247 if zero.
	MaxMTU int

	// PreparedWriteQueueSize bounds how many Prepare Write entries the
	// server's single shared prepared-write queue holds. Zero (or a
	// negative value) selects defaultPreparedWriteQueueSize (4)
	// entries; Prepare Write is always available, and no setting makes
	// it fail with Request Not Supported.
	PreparedWriteQueueSize int

	// Security looks up bonded long-term keys for LL_ENC_REQ. Nil
	// means the server never has a bond on file, so every encryption
	// request is rejected with pin-or-key-missing.
	Security securitymgr.Manager

	// SecurityManager forwards L2CAP channel 0x0006 traffic to the
	// embedder's own pairing implementation. Nil means SM PDUs are
	// silently dropped.
	SecurityManager SecurityManagerForwarder

	// Connected is called once a central successfully connects.
	Connected func(*Conn)
	// Disconnected is called once the connection ends, for any reason.
	Disconnected func(*Conn, linklayer.DisconnectReason)
	// EncryptionChanged is called whenever encryption becomes fully
	// established or drops.
	EncryptionChanged func(*Conn, bool)

	// Logger records connection lifecycle and malformed-traffic events.
	// Defaults to logrus.StandardLogger() if nil.
	Logger *logrus.Logger

	services []*Service
	db       *database

	link *Link
}

// AddService registers a new Service with the server. All services
// must be declared before Start is called.
func (s *Server) AddService(u UUID) *Service {
	if s.db != nil {
		panic("bluetoe: AddService called after Start")
	}
	svc := &Service{uuid: u}
	s.services = append(s.services, svc)
	return svc
}

func (s *Server) preparedWriteQueueSize() int {
	if s.PreparedWriteQueueSize > 0 {
		return s.PreparedWriteQueueSize
	}
	return defaultPreparedWriteQueueSize
}

func (s *Server) database() *database { return s.db }

// wakeNotifyLoop is called whenever a Conn queues a notification or
// indication. A real embedder's ScheduledRadio does its own wakeup
// when transmit buffer space is produced; this hook exists so
// in-process callers (tests, cmd/bluetoed's loopback demo) can drive
// an extra connection event promptly instead of waiting for the next
// scheduled one.
func (s *Server) wakeNotifyLoop() {
	if s.link != nil && s.link.onWake != nil {
		s.link.onWake()
	}
}

// ErrAlreadyStarted is returned by Start if called more than once.
var ErrAlreadyStarted = errors.New("bluetoe: server already started")

// Link is the running connection engine bound to one radio. It is the
// handle returned by Server.Start: the embedder drives it by calling
// Accept (once a CONNECT_IND arrives) and HandleConnectionEvent (once
// per scheduled connection event).
type Link struct {
	engine *linklayer.Engine
	conn   *Conn
	server *Server

	onWake func()
}

// Start builds the attribute database from the services declared so
// far and creates a Link bound to r. It does not itself drive
// advertising; the embedder's advertiser (an external collaborator,
// see spec §1) is expected to transmit advertising PDUs and deliver
// any CONNECT_IND to Link.Accept.
func (s *Server) Start(r radio.ScheduledRadio, localAddress [6]byte) (*Link, error) {
	if s.db != nil {
		return nil, ErrAlreadyStarted
	}
	name := s.Name
	if name == "" {
		name = defaultDeviceName
	}
	appearance := []byte{byte(s.Appearance), byte(s.Appearance >> 8)}
	s.db = buildDatabase(name, appearance, s.services, s.NoGAPService)

	logger := s.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	conn := newConn(s, len(s.db.cccdPriority), s.db.cccdPriority)
	mux := newL2CAPMux(conn, s.db, s.SecurityManager, nil)

	engine := linklayer.New(r, mux, s.Security, localAddress)
	link := &Link{engine: engine, conn: conn, server: s}
	mux.onMalformed = func() {
		logger.WithField("component", "l2cap").Warn("malformed PDU, disconnecting")
		engine.Disconnect()
	}

	engine.OnConnected = func() {
		logger.WithField("mtu", conn.MTU()).Info("central connected")
		if s.Connected != nil {
			s.Connected(conn)
		}
	}
	engine.OnDisconnected = func(reason linklayer.DisconnectReason) {
		logger.WithField("reason", reason).Info("central disconnected")
		if s.Disconnected != nil {
			s.Disconnected(conn, reason)
		}
	}
	engine.OnEncryptionChanged = func(encrypted bool) {
		conn.setEncrypted(encrypted)
		if encrypted && engine.Authenticated() {
			conn.setAuthenticated(true)
		}
		logger.WithField("encrypted", encrypted).Debug("encryption state changed")
		if s.EncryptionChanged != nil {
			s.EncryptionChanged(conn, encrypted)
		}
	}
	engine.RequestL2CAPParamUpdate = func() {
		mux.sig.RequestParameterUpdate(
			uint16(defaultConnIntervalUnits), uint16(defaultConnIntervalUnits),
			0, uint16(defaultSupervisionTimeoutUnits),
		)
	}

	engine.Start()
	s.link = link
	return link, nil
}

const (
	defaultConnIntervalUnits        = 24  // 30ms in 1.25ms units
	defaultSupervisionTimeoutUnits  = 200 // 2s in 10ms units
)

// Accept validates and, if acceptable, begins connecting on a
// received CONNECT_IND. See linklayer.Engine.Accept.
func (l *Link) Accept(f linklayer.ConnectIndFields) bool { return l.engine.Accept(f) }

// HandleConnectionEvent drives one connection event's worth of
// protocol processing. Call this once per scheduled connection event.
func (l *Link) HandleConnectionEvent() { l.engine.HandleConnectionEvent() }

// Disconnect begins a local disconnect.
func (l *Link) Disconnect() { l.engine.Disconnect() }

// State returns the engine's current connection state.
func (l *Link) State() linklayer.State { return l.engine.State() }

// Conn returns the server's single connection object. Its GATT-level
// fields (MTU, encryption, CCCD state) are only meaningful once
// connected.
func (l *Link) Conn() *Conn { return l.conn }

// OnWake registers a callback invoked whenever queued outbound work
// (a notification or indication) becomes available outside of a
// connection event, so the embedder can ask
// its radio/timer to run an extra event promptly. Optional.
func (l *Link) OnWake(f func()) { l.onWake = f }
