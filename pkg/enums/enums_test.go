package enums

import "testing"

func TestParseSpotStatus(t *testing.T) {
	got, err := ParseSpotStatus("O")
	if err != nil || got != SpotStatusOccupied {
		t.Fatalf("expected occupied, got %q err=%v", got, err)
	}
	if got.Label() != "occupied" {
		t.Fatalf("unexpected label %q", got.Label())
	}
	if _, err := ParseSpotStatus("X"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestParseUserRole(t *testing.T) {
	if _, err := ParseUserRole("admin"); err != nil {
		t.Fatalf("parse admin: %v", err)
	}
	if UserRole("owner").IsValid() {
		t.Fatal("owner is not a parking role")
	}
}

func TestOutboxEnumsValidate(t *testing.T) {
	if !EventReservationCreated.IsValid() {
		t.Fatal("reservation_created should be valid")
	}
	if _, err := ParseOutboxEventType("order_paid"); err == nil {
		t.Fatal("expected unknown event type to fail")
	}
}

func TestOutboxAggregateTypes(t *testing.T) {
	for _, a := range []OutboxAggregateType{AggregateReservation, AggregateUser} {
		if !a.IsValid() {
			t.Fatalf("%s should be valid", a)
		}
	}
	if OutboxAggregateType("order").IsValid() {
		t.Fatal("order is not an aggregate here")
	}
}
