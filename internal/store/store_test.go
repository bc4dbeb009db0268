package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/qen-labs/inspectord/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCluster(t *testing.T, s *store.Store) store.Cluster {
	t.Helper()
	c, err := s.CreateCluster("prod-east", "/tmp/kubeconfig", "", nil)
	if err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}
	return c
}

func mustItem(t *testing.T, s *store.Store, name string) store.InspectionItem {
	t.Helper()
	item, err := s.CreateItem(name, "", store.CheckTypeCommand, store.CheckConfig{
		Command: &store.CommandConfig{CommandTemplate: "echo ok", Shell: true, TimeoutS: 5},
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	return item
}

func TestCreateCluster_DuplicateNameConflicts(t *testing.T) {
	s := newTestStore(t)
	mustCluster(t, s)
	if _, err := s.CreateCluster("prod-east", "/tmp/other", "", nil); !store.IsNameConflict(err) {
		t.Fatalf("want ErrNameConflict, got %v", err)
	}
}

func TestRunLifecycle_ServerExecutorCompletes(t *testing.T) {
	s := newTestStore(t)
	c := mustCluster(t, s)
	item := mustItem(t, s, "check-a")

	run, err := s.CreateRun(c.ID, "op", []store.RunItemSnapshot{{ItemID: item.ID, ItemName: item.Name, Sequence: 0}}, store.ExecutorServer)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.Status != store.RunQueued || run.TotalItems != 1 {
		t.Fatalf("unexpected initial run: %+v", run)
	}

	if err := s.StartRun(run.ID); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := s.StartRun(run.ID); !store.IsInvalidTransition(err) {
		t.Fatalf("second StartRun should be an invalid transition, got %v", err)
	}

	res, created, err := s.RecordResult(run.ID, item.ID, item.Name, store.ResultPassed, "ok", "")
	if err != nil || !created {
		t.Fatalf("RecordResult: res=%+v created=%v err=%v", res, created, err)
	}

	got, err := s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ProcessedItems != 1 || got.Progress != 100 {
		t.Fatalf("want processed=1 progress=100, got %+v", got)
	}

	final, err := s.FinaliseRun(run.ID)
	if err != nil {
		t.Fatalf("FinaliseRun: %v", err)
	}
	if final.Status != store.RunCompleted {
		t.Fatalf("want completed, got %s (summary=%s)", final.Status, final.Summary)
	}
}

func TestRecordResult_IdempotentOnDuplicateSubmit(t *testing.T) {
	s := newTestStore(t)
	c := mustCluster(t, s)
	item := mustItem(t, s, "check-b")
	run, _ := s.CreateRun(c.ID, "", []store.RunItemSnapshot{{ItemID: item.ID, ItemName: item.Name, Sequence: 0}}, store.ExecutorServer)
	_ = s.StartRun(run.ID)

	first, created, err := s.RecordResult(run.ID, item.ID, item.Name, store.ResultPassed, "first", "")
	if err != nil || !created {
		t.Fatalf("first RecordResult: %v created=%v", err, created)
	}
	second, created, err := s.RecordResult(run.ID, item.ID, item.Name, store.ResultPassed, "second", "")
	if err != nil {
		t.Fatalf("second RecordResult: %v", err)
	}
	if created {
		t.Fatal("second submit should not be reported as newly created")
	}
	if second.Detail != first.Detail {
		t.Fatalf("detail should remain %q, got %q", first.Detail, second.Detail)
	}

	results, err := s.GetResults(run.ID)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("want exactly 1 result row, got %d", len(results))
	}

	got, _ := s.GetRun(run.ID)
	if got.ProcessedItems != 1 {
		t.Fatalf("processed_items should only advance once, got %d", got.ProcessedItems)
	}
}

func TestCancelRun_PreservesPriorResultsAndFailsRemaining(t *testing.T) {
	s := newTestStore(t)
	c := mustCluster(t, s)
	var items []store.RunItemSnapshot
	for i := 0; i < 5; i++ {
		it := mustItem(t, s, "check-"+string(rune('a'+i)))
		items = append(items, store.RunItemSnapshot{ItemID: it.ID, ItemName: it.Name, Sequence: i})
	}
	run, _ := s.CreateRun(c.ID, "", items, store.ExecutorServer)
	_ = s.StartRun(run.ID)

	for i := 0; i < 2; i++ {
		if _, _, err := s.RecordResult(run.ID, items[i].ItemID, items[i].ItemName, store.ResultPassed, "ok", ""); err != nil {
			t.Fatalf("RecordResult %d: %v", i, err)
		}
	}

	cancelled, err := s.CancelRun(run.ID)
	if err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
	if cancelled.Status != store.RunCancelled {
		t.Fatalf("want cancelled, got %s", cancelled.Status)
	}
	if cancelled.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}

	results, err := s.GetResults(run.ID)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("want 5 result rows, got %d", len(results))
	}
	for i, r := range results {
		if i < 2 {
			if r.Status != store.ResultPassed {
				t.Errorf("result %d should be preserved as passed, got %s", i, r.Status)
			}
		} else {
			if r.Status != store.ResultFailed {
				t.Errorf("result %d should be failed-skipped, got %s", i, r.Status)
			}
		}
	}

	// Cancelling an already-terminal run is idempotent.
	again, err := s.CancelRun(run.ID)
	if err != nil {
		t.Fatalf("second CancelRun: %v", err)
	}
	if again.Status != store.RunCancelled {
		t.Fatalf("second cancel changed status to %s", again.Status)
	}
}

func TestAgentLeaseClaimAndSweep(t *testing.T) {
	s := newTestStore(t)
	c := mustCluster(t, s)
	item := mustItem(t, s, "check-lease")

	agent, err := s.CreateAgent("agent-a", c.ID, "", "", "hash")
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	run, err := s.CreateRun(c.ID, "", []store.RunItemSnapshot{{ItemID: item.ID, ItemName: item.Name, Sequence: 0}}, store.ExecutorAgent)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.SetRunAgent(run.ID, agent.ID); err != nil {
		t.Fatalf("SetRunAgent: %v", err)
	}

	claimed, err := s.ClaimAgentRunsForDispatch(agent.ID, 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimAgentRunsForDispatch: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("want 1 claimed run, got %d", len(claimed))
	}

	// Re-claiming immediately should return nothing: the run is no longer queued.
	claimedAgain, err := s.ClaimAgentRunsForDispatch(agent.ID, 10, time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(claimedAgain) != 0 {
		t.Fatalf("want 0 runs on second claim, got %d", len(claimedAgain))
	}

	// Simulate lease expiry by sweeping with a future "now".
	expired, err := s.SweepExpiredLeases(time.Now().Add(2 * time.Minute))
	if err != nil {
		t.Fatalf("SweepExpiredLeases: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("want 1 expired lease, got %d", len(expired))
	}

	reclaimed, err := s.ClaimAgentRunsForDispatch(agent.ID, 10, time.Minute)
	if err != nil {
		t.Fatalf("reclaim after sweep: %v", err)
	}
	if len(reclaimed) != 1 {
		t.Fatalf("want to reclaim the detached run, got %d", len(reclaimed))
	}
}

func TestImportItems_UpsertsByName(t *testing.T) {
	s := newTestStore(t)
	existing := mustItem(t, s, "shared-name")

	result, err := s.ImportItems([]store.InspectionItem{
		{Name: "shared-name", CheckType: store.CheckTypeCommand, Config: store.CheckConfig{Command: &store.CommandConfig{CommandTemplate: "true"}}},
		{Name: "brand-new", CheckType: store.CheckTypeCommand, Config: store.CheckConfig{Command: &store.CommandConfig{CommandTemplate: "true"}}},
	})
	if err != nil {
		t.Fatalf("ImportItems: %v", err)
	}
	if result.Updated != 1 || result.Created != 1 || result.Total != 2 {
		t.Fatalf("want 1 updated, 1 created, 2 total; got %+v", result)
	}

	updated, err := s.GetItem(existing.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if updated.Config.Command.CommandTemplate != "true" {
		t.Fatalf("expected import to overwrite config, got %+v", updated.Config)
	}
}
