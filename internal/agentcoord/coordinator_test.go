package agentcoord_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/qen-labs/inspectord/internal/agentcoord"
	"github.com/qen-labs/inspectord/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterAgent_IsIdempotentByName(t *testing.T) {
	s := newTestStore(t)
	c := agentcoord.New(s, nil)

	first, err := c.RegisterAgent("runner-1", "", "", "")
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	second, err := c.RegisterAgent("runner-1", "", "", "")
	if err != nil {
		t.Fatalf("second RegisterAgent: %v", err)
	}
	if first.Agent.ID != second.Agent.ID {
		t.Fatalf("re-registering by name should reuse the agent row: %s != %s", first.Agent.ID, second.Agent.ID)
	}
	if first.PlaintextToken == second.PlaintextToken {
		t.Fatal("re-registration should rotate the token")
	}

	if _, err := c.Authenticate("runner-1", first.PlaintextToken); err == nil {
		t.Fatal("old token should no longer authenticate after rotation")
	}
	if _, err := c.Authenticate("runner-1", second.PlaintextToken); err != nil {
		t.Fatalf("current token should authenticate: %v", err)
	}
}

func TestAuthenticate_RejectsWrongTokenAndUnknownName(t *testing.T) {
	s := newTestStore(t)
	c := agentcoord.New(s, nil)
	reg, err := c.RegisterAgent("runner-2", "", "", "")
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	if _, err := c.Authenticate("runner-2", "wrong-token"); err != agentcoord.ErrInvalidCredentials {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
	if _, err := c.Authenticate("does-not-exist", reg.PlaintextToken); err != agentcoord.ErrInvalidCredentials {
		t.Fatalf("want ErrInvalidCredentials for unknown name, got %v", err)
	}
}

func TestAuthenticate_RejectsDisabledAgent(t *testing.T) {
	s := newTestStore(t)
	c := agentcoord.New(s, nil)
	reg, err := c.RegisterAgent("runner-3", "", "", "")
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if err := s.SetAgentEnabled(reg.Agent.ID, false); err != nil {
		t.Fatalf("SetAgentEnabled: %v", err)
	}
	if _, err := c.Authenticate("runner-3", reg.PlaintextToken); err != agentcoord.ErrInvalidCredentials {
		t.Fatalf("want ErrInvalidCredentials for disabled agent, got %v", err)
	}
}

func TestPullTasksAndSubmitResult_FinalisesRunOnLastItem(t *testing.T) {
	s := newTestStore(t)
	c := agentcoord.New(s, nil, agentcoord.WithLeaseTTL(time.Minute))

	cluster, err := s.CreateCluster("agent-cluster", "/tmp/kubeconfig", "", nil)
	if err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}
	item, err := s.CreateItem("check-x", "", store.CheckTypeCommand, store.CheckConfig{
		Command: &store.CommandConfig{CommandTemplate: "true", Shell: true},
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	reg, err := c.RegisterAgent("runner-4", cluster.ID, "", "")
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	run, err := s.CreateRun(cluster.ID, "", []store.RunItemSnapshot{{ItemID: item.ID, ItemName: item.Name, Sequence: 0}}, store.ExecutorAgent)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.SetRunAgent(run.ID, reg.Agent.ID); err != nil {
		t.Fatalf("SetRunAgent: %v", err)
	}
	if err := s.StartRun(run.ID); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	bundles, err := c.PullTasks(t.Context(), reg.Agent.ID, 10)
	if err != nil {
		t.Fatalf("PullTasks: %v", err)
	}
	if len(bundles) != 1 || len(bundles[0].Items) != 1 {
		t.Fatalf("want 1 bundle with 1 item, got %+v", bundles)
	}

	if _, err := c.SubmitResult(t.Context(), reg.Agent.ID, run.ID, item.ID, item.Name, store.ResultPassed, "ok", ""); err != nil {
		t.Fatalf("SubmitResult: %v", err)
	}

	final, err := s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if final.Status != store.RunCompleted {
		t.Fatalf("want completed after last item submitted, got %s", final.Status)
	}
	if final.AgentStatus != store.AgentRunFinished {
		t.Fatalf("want agent_status finished, got %s", final.AgentStatus)
	}
}

func TestReportRunFailure_FinalisesIncompleteAndRecordsAudit(t *testing.T) {
	s := newTestStore(t)
	c := agentcoord.New(s, nil)

	cluster, _ := s.CreateCluster("fail-cluster", "/tmp/kubeconfig", "", nil)
	item, _ := s.CreateItem("check-y", "", store.CheckTypeCommand, store.CheckConfig{
		Command: &store.CommandConfig{CommandTemplate: "true", Shell: true},
	})
	reg, err := c.RegisterAgent("runner-5", cluster.ID, "", "")
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	run, err := s.CreateRun(cluster.ID, "", []store.RunItemSnapshot{{ItemID: item.ID, ItemName: item.Name, Sequence: 0}}, store.ExecutorAgent)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	_ = s.SetRunAgent(run.ID, reg.Agent.ID)
	_ = s.StartRun(run.ID)

	failed, err := c.ReportRunFailure(run.ID, "agent lost cluster access")
	if err != nil {
		t.Fatalf("ReportRunFailure: %v", err)
	}
	if failed.Status != store.RunIncomplete {
		t.Fatalf("want incomplete, got %s", failed.Status)
	}
	if failed.AgentStatus != store.AgentRunFailed {
		t.Fatalf("want agent_status failed, got %s", failed.AgentStatus)
	}
	results, err := s.GetResults(run.ID)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if len(results) != 1 || results[0].Status != store.ResultFailed {
		t.Fatalf("want the unfinished item recorded as failed, got %+v", results)
	}

	entries, err := s.ListAudit(store.AuditFilter{Target: run.ID})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want 1 audit entry, got %d", len(entries))
	}
}
