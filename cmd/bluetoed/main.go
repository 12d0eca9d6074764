// Command bluetoed wires a bluetoe Server with a small attribute
// database to a pair of loopback radios, accepts a synthesized
// CONNECT_IND and runs connection events, without any real hardware.
// The central side sends no PDUs, so no ATT request reaches the
// database and the link returns to advertising once the connecting
// state's receive windows run out. It exists to give embedders
// something runnable to read and step through; it is not a deployment
// target.
package main

import (
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/bluetoe/bluetoe"
	"github.com/bluetoe/bluetoe/linklayer"
	"github.com/bluetoe/bluetoe/radio"
)

// serviceSpec is the shape of the YAML attribute-database declaration
// this demo loads, mirroring the kind of device-composition file a
// real embedder's build tooling would generate from service/
// characteristic declarations.
type serviceSpec struct {
	Name     string `yaml:"name"`
	Services []struct {
		UUID            string `yaml:"uuid"`
		Characteristics []struct {
			UUID  string `yaml:"uuid"`
			Read  bool   `yaml:"read"`
			Write bool   `yaml:"write"`
			Notify bool  `yaml:"notify"`
		} `yaml:"characteristics"`
	} `yaml:"services"`
}

func main() {
	var (
		name     = pflag.String("name", "bluetoe-lamp", "advertised device name")
		noGAP    = pflag.Bool("no-gap", false, "suppress the mandatory GAP service")
		mtu      = pflag.Int("mtu", 0, "maximum ATT_MTU to negotiate (0 = default 247)")
		specPath = pflag.String("spec", "", "optional YAML service declaration to load instead of the built-in demo")
	)
	pflag.Parse()

	logger := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Level:           charmlog.InfoLevel,
	})

	srv := &bluetoe.Server{Name: *name, NoGAPService: *noGAP, MaxMTU: *mtu}

	if *specPath != "" {
		data, err := os.ReadFile(*specPath)
		if err != nil {
			logger.Fatal("reading spec", "err", err)
		}
		var spec serviceSpec
		if err := yaml.Unmarshal(data, &spec); err != nil {
			logger.Fatal("parsing spec", "err", err)
		}
		if spec.Name != "" {
			srv.Name = spec.Name
		}
		for _, svcSpec := range spec.Services {
			svc := srv.AddService(bluetoe.MustParseUUID(svcSpec.UUID))
			for _, chSpec := range svcSpec.Characteristics {
				c := svc.AddCharacteristic(bluetoe.MustParseUUID(chSpec.UUID))
				value := []byte{0}
				if chSpec.Read {
					c.SetValue(value)
				}
				if chSpec.Write {
					c.HandleWriteFunc(func(r bluetoe.Request, data []byte) bluetoe.AttributeAccessResult {
						logger.Info("write", "char", r.Characteristic.UUID(), "data", data)
						return bluetoe.StatusSuccess
					})
				}
				if chSpec.Notify {
					c.EnableNotify()
				}
			}
		}
	} else {
		lampUUID := bluetoe.MustParseUUID("0000ff00-0000-1000-8000-00805f9b34fb")
		onOffUUID := bluetoe.MustParseUUID("0000ff01-0000-1000-8000-00805f9b34fb")
		svc := srv.AddService(lampUUID)
		on := false
		c := svc.AddCharacteristic(onOffUUID)
		c.HandleReadFunc(func(resp bluetoe.ReadResponseWriter, req *bluetoe.ReadRequest) {
			if on {
				resp.Write([]byte{1})
			} else {
				resp.Write([]byte{0})
			}
		})
		c.HandleWriteFunc(func(r bluetoe.Request, data []byte) bluetoe.AttributeAccessResult {
			if len(data) != 1 {
				return bluetoe.StatusInvalidAttributeValueLength
			}
			on = data[0] != 0
			logger.Info("lamp", "on", on)
			return bluetoe.StatusSuccess
		})
	}

	srv.Connected = func(c *bluetoe.Conn) { logger.Info("central connected", "mtu", c.MTU()) }
	srv.Disconnected = func(c *bluetoe.Conn, reason linklayer.DisconnectReason) {
		logger.Info("central disconnected", "reason", reason)
	}

	peripheralRadio := radio.NewLoopback(1)
	centralRadio := radio.NewLoopback(2)
	radio.Connect(peripheralRadio, centralRadio)

	link, err := srv.Start(peripheralRadio, [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff})
	if err != nil {
		logger.Fatal("starting server", "err", err)
	}

	fields, ok := linklayer.ParseConnectIndFields(demoConnectIndPayload())
	if !ok || !link.Accept(fields) {
		logger.Fatal("demo CONNECT_IND rejected")
	}
	logger.Info("server started", "state", link.State())

	for i := 0; i < 20; i++ {
		centralRadio.Flush()
		link.HandleConnectionEvent()
		peripheralRadio.Flush()
		time.Sleep(10 * time.Millisecond)
	}
	logger.Info("demo finished", "state", link.State())
}

// demoConnectIndPayload synthesizes a CONNECT_IND LLData field for a
// 30ms connection interval, zero slave latency, and a 2s supervision
// timeout, good enough for this in-process demo.
func demoConnectIndPayload() []byte {
	b := make([]byte, 22)
	b[0], b[1], b[2], b[3] = 0x11, 0x22, 0x33, 0x44 // access address
	b[4], b[5], b[6] = 0x55, 0x66, 0x77             // CRC init
	b[7] = 4                                        // window size: 5ms
	b[8], b[9] = 0, 0                               // window offset
	b[10], b[11] = 24, 0                            // interval: 24 * 1.25ms = 30ms
	b[12], b[13] = 0, 0                             // slave latency
	b[14], b[15] = 200, 0                           // timeout: 200 * 10ms = 2s
	for i := 16; i < 21; i++ {
		b[i] = 0xff // all channels usable
	}
	b[21] = 8 // hop increment 8, SCA 0 (500ppm)
	return b
}
