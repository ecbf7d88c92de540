package threat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestReportAutoBlocksCritical(t *testing.T) {
	e := NewEngine()
	ctx := context.Background()

	th, err := e.Report(ctx, Input{
		Type:              TypeIntrusion,
		Severity:          SeverityCritical,
		Source:            "198.51.100.7",
		Target:            "pacs-server",
		PatientDataAtRisk: true,
	})
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if th.Status != StatusBlocked || !th.AutoBlocked {
		t.Fatalf("critical threat must auto-block, got %+v", th)
	}
	if c := e.Counts(ctx); c.Blocked != 1 || c.Detected != 1 {
		t.Fatalf("expected blocked counter to increment exactly once, got %+v", c)
	}
}

func TestReportPatientDataBlocksRegardlessOfSeverity(t *testing.T) {
	e := NewEngine()
	th, err := e.Report(context.Background(), Input{
		Type:              TypePhishing,
		Severity:          SeverityLow,
		Source:            "mail-gateway",
		Target:            "front-desk",
		PatientDataAtRisk: true,
	})
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if th.Status != StatusBlocked {
		t.Fatalf("patient data at risk must block, got %s", th.Status)
	}
}

func TestReportLowSeverityStaysDetected(t *testing.T) {
	e := NewEngine()
	th, err := e.Report(context.Background(), Input{
		Type:     TypeMalware,
		Severity: SeverityMedium,
		Source:   "usb-import",
		Target:   "workstation-12",
	})
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if th.Status != StatusDetected || th.AutoBlocked {
		t.Fatalf("expected detected, got %+v", th)
	}
}

func TestReportValidation(t *testing.T) {
	e := NewEngine()
	ctx := context.Background()

	if _, err := e.Report(ctx, Input{Type: "ransomware", Severity: SeverityLow, Source: "a", Target: "b"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid type error, got %v", err)
	}
	if _, err := e.Report(ctx, Input{Type: TypeMalware, Severity: "urgent", Source: "a", Target: "b"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid severity error, got %v", err)
	}
	if _, err := e.Report(ctx, Input{Type: TypeMalware, Severity: SeverityLow, Source: " ", Target: "b"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected missing source error, got %v", err)
	}
}

func TestLifecycleResolveRequiresMitigation(t *testing.T) {
	e := NewEngine()
	ctx := context.Background()

	th, err := e.Report(ctx, Input{Type: TypeInsider, Severity: SeverityHigh, Source: "emp-204", Target: "records-db"})
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	// detected threats cannot resolve directly
	if _, err := e.Resolve(ctx, th.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if _, err := e.Mitigate(ctx, th.ID, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty mitigation step must fail, got %v", err)
	}

	mitigated, err := e.Mitigate(ctx, th.ID, "revoked database credentials")
	if err != nil {
		t.Fatalf("Mitigate failed: %v", err)
	}
	if mitigated.Status != StatusMitigated || len(mitigated.MitigationSteps) != 1 {
		t.Fatalf("unexpected state after mitigation: %+v", mitigated)
	}

	// additional steps accumulate in order
	mitigated, err = e.Mitigate(ctx, th.ID, "rotated service account keys")
	if err != nil {
		t.Fatalf("second Mitigate failed: %v", err)
	}
	if len(mitigated.MitigationSteps) != 2 || mitigated.MitigationSteps[0] != "revoked database credentials" {
		t.Fatalf("mitigation trail out of order: %v", mitigated.MitigationSteps)
	}

	resolved, err := e.Resolve(ctx, th.ID)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Status != StatusResolved {
		t.Fatalf("expected resolved, got %s", resolved.Status)
	}

	// resolved is terminal
	if _, err := e.Mitigate(ctx, th.ID, "late step"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("resolved threat must reject mitigation, got %v", err)
	}
	if _, err := e.Resolve(ctx, th.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double resolve must fail, got %v", err)
	}
}

func TestBlockedThreatCanBeMitigated(t *testing.T) {
	e := NewEngine()
	ctx := context.Background()

	th, _ := e.Report(ctx, Input{Type: TypeDataBreach, Severity: SeverityCritical, Source: "api", Target: "ehr"})
	if th.Status != StatusBlocked {
		t.Fatalf("expected blocked, got %s", th.Status)
	}
	mitigated, err := e.Mitigate(ctx, th.ID, "patched export endpoint")
	if err != nil {
		t.Fatalf("Mitigate failed: %v", err)
	}
	if mitigated.Status != StatusMitigated {
		t.Fatalf("expected mitigated, got %s", mitigated.Status)
	}
	// auto-block history survives later transitions
	if c := e.Counts(ctx); c.Blocked != 1 {
		t.Fatalf("blocked tally must not regress, got %+v", c)
	}
}

func TestUnknownThreat(t *testing.T) {
	e := NewEngine()
	ctx := context.Background()
	if _, err := e.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := e.Mitigate(ctx, "missing", "step"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenVulnerabilities(t *testing.T) {
	e := NewEngine()
	ctx := context.Background()

	_, _ = e.Report(ctx, Input{Type: TypeMalware, Severity: SeverityLow, Source: "a", Target: "b"})
	_, _ = e.Report(ctx, Input{Type: TypeIntrusion, Severity: SeverityHigh, Source: "a", Target: "b"})
	crit, _ := e.Report(ctx, Input{Type: TypeDataBreach, Severity: SeverityCritical, Source: "a", Target: "b"})

	if got := e.OpenVulnerabilities(ctx, SeverityHigh); got != 2 {
		t.Fatalf("expected 2 open vulnerabilities, got %d", got)
	}

	if _, err := e.Mitigate(ctx, crit.ID, "isolated segment"); err != nil {
		t.Fatalf("Mitigate failed: %v", err)
	}
	if _, err := e.Resolve(ctx, crit.ID); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got := e.OpenVulnerabilities(ctx, SeverityHigh); got != 1 {
		t.Fatalf("resolved threat must drop out, got %d", got)
	}
}

func TestConcurrentReportsGetUniqueIDs(t *testing.T) {
	e := NewEngine()
	ctx := context.Background()

	var wg sync.WaitGroup
	const n = 50
	idsCh := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			th, err := e.Report(ctx, Input{
				Type:     TypeIntrusion,
				Severity: SeverityMedium,
				Source:   fmt.Sprintf("scanner-%d", i),
				Target:   "gateway",
			})
			if err != nil {
				t.Errorf("Report: %v", err)
				return
			}
			idsCh <- th.ID
		}(i)
	}
	wg.Wait()
	close(idsCh)

	seen := make(map[string]struct{})
	for id := range idsCh {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate threat id %s", id)
		}
		seen[id] = struct{}{}
	}
	if c := e.Counts(ctx); c.Detected != n {
		t.Fatalf("expected %d threats, got %+v", n, c)
	}
}

func TestCommitHookVetoLeavesNoTrace(t *testing.T) {
	e := NewEngine()
	ctx := context.Background()
	veto := errors.New("trail sink unavailable")

	if _, err := e.Report(ctx, Input{
		Type: TypeMalware, Severity: SeverityLow, Source: "mail-gateway", Target: "front-desk",
	}, func(Threat) error { return veto }); !errors.Is(err, veto) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if got := len(e.List(ctx)); got != 0 {
		t.Fatalf("vetoed report must not become listable, got %d records", got)
	}

	th, err := e.Report(ctx, Input{
		Type: TypeMalware, Severity: SeverityLow, Source: "mail-gateway", Target: "front-desk",
	})
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if _, err := e.Mitigate(ctx, th.ID, "isolate host", func(Threat) error { return veto }); !errors.Is(err, veto) {
		t.Fatalf("expected hook error, got %v", err)
	}
	got, err := e.Get(ctx, th.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusDetected || len(got.MitigationSteps) != 0 {
		t.Fatalf("vetoed mitigation must leave the record untouched, got %+v", got)
	}

	if _, err := e.Mitigate(ctx, th.ID, "isolate host"); err != nil {
		t.Fatalf("Mitigate failed: %v", err)
	}
	if _, err := e.Resolve(ctx, th.ID, func(Threat) error { return veto }); !errors.Is(err, veto) {
		t.Fatalf("expected hook error, got %v", err)
	}
	got, err = e.Get(ctx, th.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusMitigated {
		t.Fatalf("vetoed resolution must leave the threat mitigated, got %s", got.Status)
	}
}

func TestCommitHookSeesProspectiveRecord(t *testing.T) {
	e := NewEngine()
	var seen Threat
	th, err := e.Report(context.Background(), Input{
		Type: TypeIntrusion, Severity: SeverityCritical, Source: "198.51.100.7", Target: "pacs",
	}, func(next Threat) error {
		seen = next
		return nil
	})
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if seen.ID != th.ID || !seen.AutoBlocked || seen.Status != StatusBlocked {
		t.Fatalf("hook must observe the post-policy record, got %+v", seen)
	}
}
