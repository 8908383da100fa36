package main

import (
	"context"
	"errors"
	"testing"

	"caseclosed/backend/internal/config"
	"caseclosed/backend/internal/logging"
	"caseclosed/backend/internal/partners"
	"caseclosed/backend/internal/queue"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := []config.Config{
		{AuthSecret: "short", OperatorUsername: "operator", OperatorPassword: "long-enough-pass"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", OperatorUsername: "operator", OperatorPassword: "short"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", OperatorUsername: "operator1", OperatorPassword: "operator1"},
	}
	for i, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("case %d: expected weak security config to be rejected", i)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:       "0123456789abcdef0123456789abcdef",
		OperatorUsername: "operator",
		OperatorPassword: "v3ry-l0ng-pass",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestBuildPartnersFallsBackToSimulations(t *testing.T) {
	set := buildPartners(config.Config{MachineName: "case_machine"}, logging.Discard())

	if _, ok := set.bank.(*partners.SimulatedBank); !ok {
		t.Fatalf("expected simulated bank, got %T", set.bank)
	}
	if _, ok := set.logistics.(*partners.SimulatedLogistics); !ok {
		t.Fatalf("expected simulated logistics, got %T", set.logistics)
	}
	if len(set.suppliers) != 2 {
		t.Fatalf("expected two simulated suppliers, got %d", len(set.suppliers))
	}
	offers, err := set.catalog.MachinesForSale(context.Background())
	if err != nil || len(offers) != 1 || offers[0].Name != "case_machine" {
		t.Fatalf("unexpected simulated catalog %+v %v", offers, err)
	}
}

func TestBuildPartnersUsesConfiguredURLs(t *testing.T) {
	set := buildPartners(config.Config{
		BankURL:      "http://bank.local",
		LogisticsURL: "http://logistics.local",
		EquipmentURL: "http://equipment.local",
		SupplierURLs: map[string]string{"recycler": "http://recycler.local", "hand": "http://hand.local"},
		PartnerRetry: 2,
	}, logging.Discard())

	if _, ok := set.bank.(*partners.BankClient); !ok {
		t.Fatalf("expected bank client, got %T", set.bank)
	}
	if _, ok := set.logistics.(*partners.LogisticsClient); !ok {
		t.Fatalf("expected logistics client, got %T", set.logistics)
	}
	if _, ok := set.catalog.(*partners.EquipmentClient); !ok {
		t.Fatalf("expected equipment client, got %T", set.catalog)
	}
	if len(set.suppliers) != 2 || set.suppliers[0].Name() != "hand" || set.suppliers[1].Name() != "recycler" {
		t.Fatalf("expected suppliers sorted by name, got %d", len(set.suppliers))
	}
}

func TestOpenQueueDefaultsToMemory(t *testing.T) {
	q := openQueue(config.Config{}, logging.Discard())
	defer q.Close()
	if _, ok := q.(*queue.MemoryQueue); !ok {
		t.Fatalf("expected memory queue without brokers, got %T", q)
	}
}

func TestAllReadyStopsAtFirstFailure(t *testing.T) {
	if allReady(nil) != nil {
		t.Fatalf("an empty check list should report ready")
	}
	calls := 0
	check := allReady([]func(context.Context) error{
		func(context.Context) error { calls++; return errors.New("down") },
		func(context.Context) error { calls++; return nil },
	})
	if err := check(context.Background()); err == nil || calls != 1 {
		t.Fatalf("expected first failure to short-circuit, err %v calls %d", err, calls)
	}
}
