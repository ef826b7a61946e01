package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestStartAnnouncerBuildsExpectedTXTRecords(t *testing.T) {
	var gotInstance, gotService, gotDomain string
	var gotPort int
	var gotText []string

	cfg := Config{
		SelfDeviceID: "device-123",
		DeviceName:   "Alice Laptop",
		SharePort:    53317,
		AuthRequired: true,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance = instance
			gotService = service
			gotDomain = domain
			gotPort = port
			gotText = text
			return nil, nil
		},
	}

	announcer, err := StartAnnouncer(cfg)
	if err != nil {
		t.Fatalf("StartAnnouncer failed: %v", err)
	}
	defer announcer.Stop()

	if gotInstance != "Alice Laptop" {
		t.Errorf("instance = %q, want %q", gotInstance, "Alice Laptop")
	}
	if gotService != DefaultService {
		t.Errorf("service = %q, want %q", gotService, DefaultService)
	}
	if gotDomain != DefaultDomain {
		t.Errorf("domain = %q, want %q", gotDomain, DefaultDomain)
	}
	if gotPort != 53317 {
		t.Errorf("port = %d, want 53317", gotPort)
	}

	txt := txtToMap(gotText)
	if txt["device_id"] != "device-123" {
		t.Errorf("device_id = %q, want %q", txt["device_id"], "device-123")
	}
	if txt["version"] != "1" {
		t.Errorf("version = %q, want %q", txt["version"], "1")
	}
	if txt["auth"] != "1" {
		t.Errorf("auth = %q, want %q", txt["auth"], "1")
	}
}

func TestStartAnnouncerOpenModeAdvertisesAuthZero(t *testing.T) {
	var gotText []string
	cfg := Config{
		SelfDeviceID: "device-123",
		DeviceName:   "Alice Laptop",
		SharePort:    53317,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotText = text
			return nil, nil
		},
	}

	announcer, err := StartAnnouncer(cfg)
	if err != nil {
		t.Fatalf("StartAnnouncer failed: %v", err)
	}
	defer announcer.Stop()

	if got := txtToMap(gotText)["auth"]; got != "0" {
		t.Errorf("auth = %q, want %q", got, "0")
	}
}

func TestStartAnnouncerValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing device ID", Config{DeviceName: "Alice", SharePort: 1}},
		{"missing device name", Config{SelfDeviceID: "device-123", SharePort: 1}},
		{"missing port", Config{SelfDeviceID: "device-123", DeviceName: "Alice"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			cfg.registerFn = func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
				t.Error("registerFn should not be called")
				return nil, nil
			}
			if _, err := StartAnnouncer(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.Service != DefaultService {
		t.Errorf("Service = %q, want %q", cfg.Service, DefaultService)
	}
	if cfg.Domain != DefaultDomain {
		t.Errorf("Domain = %q, want %q", cfg.Domain, DefaultDomain)
	}
	if cfg.Version != DefaultVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, DefaultVersion)
	}
	if cfg.RefreshInterval != DefaultRefreshInterval {
		t.Errorf("RefreshInterval = %s, want %s", cfg.RefreshInterval, DefaultRefreshInterval)
	}
	if cfg.ScanTimeout != DefaultScanTimeout {
		t.Errorf("ScanTimeout = %s, want %s", cfg.ScanTimeout, DefaultScanTimeout)
	}
}

func TestServiceStartAndStop(t *testing.T) {
	cfg := Config{
		SelfDeviceID:    "device-123",
		DeviceName:      "Alice Laptop",
		SharePort:       53317,
		RefreshInterval: time.Hour,
		ScanTimeout:     20 * time.Millisecond,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			return nil, nil
		},
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			<-ctx.Done()
			return nil
		},
	}

	svc, err := Start(cfg)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	svc.Stop()

	// Stop must be safe to repeat, including on a nil service.
	svc.Stop()
	(*Service)(nil).Stop()
}
