package peers_test

import (
	"errors"
	"fmt"
	"testing"

	"shfd/internal/peers"
)

func mustRegistry(t *testing.T, self string, addrs ...string) *peers.Registry {
	t.Helper()
	list, err := peers.ParseList(addrs)
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	reg, err := peers.NewRegistry(self, list, 0)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestDecideIsDeterministic(t *testing.T) {
	reg := mustRegistry(t, "node-a:9002", "node-b:9002", "node-c:9002")
	for i := 0; i < 100; i++ {
		resource := fmt.Sprintf("dir/file-%d.txt", i)
		first := reg.Decide(resource)
		second := reg.Decide(resource)
		if first != second {
			t.Fatalf("decision for %s changed: %+v then %+v", resource, first, second)
		}
	}
}

func TestDecideAgreesAcrossNodes(t *testing.T) {
	a := mustRegistry(t, "node-a:9002", "node-b:9002", "node-c:9002")
	b := mustRegistry(t, "node-b:9002", "node-c:9002", "node-a:9002")
	c := mustRegistry(t, "node-c:9002", "node-a:9002", "node-b:9002")

	owner := func(reg *peers.Registry, resource string) string {
		d := reg.Decide(resource)
		if d.IsLocal() {
			return reg.Self()
		}
		return d.Peer.String()
	}

	locals := map[string]int{}
	for i := 0; i < 300; i++ {
		resource := fmt.Sprintf("file-%d", i)
		oa, ob, oc := owner(a, resource), owner(b, resource), owner(c, resource)
		if oa != ob || ob != oc {
			t.Fatalf("nodes disagree on %s: %s %s %s", resource, oa, ob, oc)
		}
		locals[oa]++
	}
	if len(locals) != 3 {
		t.Fatalf("expected resources spread over all nodes, got %v", locals)
	}
}

func TestDecideWithoutPeersIsLocal(t *testing.T) {
	reg := mustRegistry(t, "solo:9002")
	if !reg.Decide("anything").IsLocal() {
		t.Fatal("registry without peers must serve locally")
	}
	if reg.Len() != 0 || len(reg.Peers()) != 0 {
		t.Fatalf("unexpected peers: %v", reg.Peers())
	}
}

func TestPeersKeepsOrderAndDuplicates(t *testing.T) {
	reg := mustRegistry(t, "self:1", "b:2", "a:1", "b:2")
	got := reg.Peers()
	if len(got) != 3 || got[0].String() != "b:2" || got[1].String() != "a:1" || got[2].String() != "b:2" {
		t.Fatalf("unexpected peer order: %v", got)
	}
	got[0] = peers.Peer{Host: "mutated", Port: 1}
	if reg.Peers()[0].Host != "b" {
		t.Fatal("Peers must return a copy")
	}
}

func TestNewRegistryEnforcesCapacity(t *testing.T) {
	list, _ := peers.ParseList([]string{"a:1", "b:2", "c:3"})
	if _, err := peers.NewRegistry("self:1", list, 2); !errors.Is(err, peers.ErrTooManyPeers) {
		t.Fatalf("expected ErrTooManyPeers, got %v", err)
	}
}

func TestParseRejectsBadAddresses(t *testing.T) {
	for _, addr := range []string{"", "host", ":9002", "host:0", "host:abc"} {
		if _, err := peers.Parse(addr); err == nil {
			t.Fatalf("expected %q to be rejected", addr)
		}
	}
}
