package ws

import "testing"

func TestRegistryRegisterDeregisterCounts(t *testing.T) {
	r := NewRegistry()
	c1 := newTestClient(1, "c1")
	c2 := newTestClient(1, "c2")

	if !r.Register(1, "dev-1", "laptop", "office", c1) {
		t.Fatal("first register should report user came online")
	}
	if r.Register(1, "dev-1", "laptop", "office", c1) {
		t.Fatal("re-registering the same connection must be a no-op")
	}
	if r.Register(1, "dev-1", "laptop", "office", c2) {
		t.Fatal("second tab should not report user came online")
	}
	if got := r.ConnectionCount(1, "dev-1"); got != 2 {
		t.Fatalf("connections = %d, want 2", got)
	}
	if got := r.DeviceCount(1); got != 1 {
		t.Fatalf("devices = %d, want 1", got)
	}

	if _, last, ok := r.Deregister(c1); !ok || last {
		t.Fatalf("first deregister: ok=%v last=%v, want ok and not last", ok, last)
	}
	if _, last, ok := r.Deregister(c2); !ok || !last {
		t.Fatalf("second deregister: ok=%v last=%v, want ok and last", ok, last)
	}
	if _, _, ok := r.Deregister(c2); ok {
		t.Fatal("deregistering an unknown connection must be a no-op")
	}
	if got := r.ConnectionCount(1, "dev-1"); got != 0 {
		t.Fatalf("connections = %d, want 0 (never negative)", got)
	}
	if r.IsOnline(1) {
		t.Fatal("user should be offline")
	}
}

func TestRegistryMultiDevice(t *testing.T) {
	r := NewRegistry()
	laptop := newTestClient(1, "c1")
	phone := newTestClient(1, "c2")

	r.Register(1, "dev-laptop", "laptop", "", laptop)
	r.Register(1, "dev-phone", "phone", "", phone)
	if got := r.DeviceCount(1); got != 2 {
		t.Fatalf("devices = %d, want 2", got)
	}
	if _, last, _ := r.Deregister(laptop); last {
		t.Fatal("user still has the phone, not last")
	}
	if !r.IsOnline(1) {
		t.Fatal("user should still be online via phone")
	}
	if _, last, _ := r.Deregister(phone); !last {
		t.Fatal("closing the final device should report last")
	}
}

func TestRegistryDevicesActiveFlag(t *testing.T) {
	r := NewRegistry()
	mine := newTestClient(1, "conn-mine")
	other := newTestClient(1, "conn-other")
	r.Register(1, "dev-a", "laptop", "berlin", mine)
	r.Register(1, "dev-b", "phone", "berlin", other)

	devs := r.Devices(1, "conn-mine")
	if len(devs) != 2 {
		t.Fatalf("devices = %d, want 2", len(devs))
	}
	for _, d := range devs {
		switch d.ID {
		case "dev-a":
			if !d.Active {
				t.Fatal("viewer's own device must be active")
			}
		case "dev-b":
			if d.Active {
				t.Fatal("other device must not be active")
			}
		}
	}
}

func TestRegistryLogoutDeviceAtomic(t *testing.T) {
	r := NewRegistry()
	c1 := newTestClient(1, "c1")
	c2 := newTestClient(1, "c2")
	r.Register(1, "dev-1", "laptop", "", c1)
	r.Register(1, "dev-1", "laptop", "", c2)

	conns := r.LogoutDevice(1, "dev-1")
	if len(conns) != 2 {
		t.Fatalf("returned %d connections, want 2", len(conns))
	}
	// By the time the caller sees the connections, the registry is clean.
	if r.IsOnline(1) {
		t.Fatal("device removal must be observable immediately")
	}
	for _, c := range conns {
		if _, _, ok := r.Deregister(c); ok {
			t.Fatal("logged-out connections must already be gone from the registry")
		}
	}
	if r.LogoutDevice(1, "dev-1") != nil {
		t.Fatal("second logout should find nothing")
	}
}

func TestRegistryTotals(t *testing.T) {
	r := NewRegistry()
	r.Register(1, "d1", "", "", newTestClient(1, "a"))
	r.Register(1, "d2", "", "", newTestClient(1, "b"))
	r.Register(2, "d1", "", "", newTestClient(2, "c"))
	if got := r.TotalDevices(); got != 3 {
		t.Fatalf("total devices = %d, want 3", got)
	}
	if got := r.TotalConnections(); got != 3 {
		t.Fatalf("total connections = %d, want 3", got)
	}
}
