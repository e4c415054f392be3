package app

import "testing"

func TestNotifierCoalesces(t *testing.T) {
	n := newNotifier()
	ch, cancel := n.Subscribe("party-1")
	defer cancel()

	// Many notifications before a read collapse into one pending signal.
	n.Notify("party-1")
	n.Notify("party-1")
	n.Notify("party-1")

	select {
	case <-ch:
	default:
		t.Fatalf("expected a pending signal")
	}
	select {
	case <-ch:
		t.Fatalf("signals should coalesce, got a second one")
	default:
	}
}

func TestNotifierScopedToParty(t *testing.T) {
	n := newNotifier()
	ch, cancel := n.Subscribe("party-1")
	defer cancel()

	n.Notify("party-2")
	select {
	case <-ch:
		t.Fatalf("unexpected signal for another party")
	default:
	}
}

func TestNotifierCancel(t *testing.T) {
	n := newNotifier()
	ch, cancel := n.Subscribe("party-1")
	cancel()

	n.Notify("party-1")
	select {
	case <-ch:
		t.Fatalf("cancelled subscription should not receive signals")
	default:
	}

	// Cancel twice is safe.
	cancel()
}
