/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package runorchestrator_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/qen-labs/inspectord/internal/checkengine"
	"github.com/qen-labs/inspectord/internal/license"
	"github.com/qen-labs/inspectord/internal/runorchestrator"
	"github.com/qen-labs/inspectord/internal/store"
)

func TestOrchestratorSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Run Orchestrator Suite")
}

var _ = Describe("Run lifecycle", func() {
	var (
		st           *store.Store
		orchestrator *runorchestrator.Orchestrator
		cluster      store.Cluster
	)

	newItem := func(name, command string) store.InspectionItem {
		item, err := st.CreateItem(name, "", store.CheckTypeCommand, store.CheckConfig{
			Command: &store.CommandConfig{CommandTemplate: command, Shell: true, TimeoutS: 5},
		})
		Expect(err).NotTo(HaveOccurred())
		return item
	}

	terminalRun := func(id string) store.InspectionRun {
		var run store.InspectionRun
		Eventually(func() string {
			var err error
			run, err = orchestrator.GetRun(id)
			Expect(err).NotTo(HaveOccurred())
			return run.Status
		}, 5*time.Second, 10*time.Millisecond).Should(BeElementOf(
			store.RunCompleted, store.RunIncomplete, store.RunCancelled,
		))
		return run
	}

	BeforeEach(func() {
		var err error
		st, err = store.Open(filepath.Join(GinkgoT().TempDir(), "suite.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { st.Close() })

		key := []byte("suite-signing-key")
		blob, err := license.Encode(license.Payload{
			Product:   "inspectord",
			Licensee:  "suite",
			IssuedAt:  time.Now().Add(-time.Hour),
			ExpiresAt: time.Now().Add(24 * time.Hour),
			Features:  []string{license.FeatureInspections, license.FeatureReports},
		}, key)
		Expect(err).NotTo(HaveOccurred())
		guard := license.NewGuard(key)
		_, err = guard.Install(blob)
		Expect(err).NotTo(HaveOccurred())

		orchestrator = runorchestrator.New(st, checkengine.New(nil), guard, nil)

		cluster, err = st.CreateCluster("suite-cluster", "/tmp/kubeconfig", "", nil)
		Expect(err).NotTo(HaveOccurred())
	})

	It("completes when every item passes", func() {
		items := []store.InspectionItem{newItem("pass-1", "true"), newItem("pass-2", "true")}

		run, err := orchestrator.CreateRun(context.Background(), cluster, items, "suite")
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Status).To(Equal(store.RunQueued))
		Expect(run.TotalItems).To(Equal(2))

		final := terminalRun(run.ID)
		Expect(final.Status).To(Equal(store.RunCompleted))
		Expect(final.Progress).To(Equal(100))
		Expect(final.ProcessedItems).To(Equal(2))
		Expect(final.CompletedAt).NotTo(BeNil())

		results, err := st.GetResults(run.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
		for _, result := range results {
			Expect(result.Status).To(Equal(store.ResultPassed))
		}
	})

	It("finalises as incomplete when an item fails", func() {
		items := []store.InspectionItem{newItem("passes", "true"), newItem("fails", "false")}

		run, err := orchestrator.CreateRun(context.Background(), cluster, items, "suite")
		Expect(err).NotTo(HaveOccurred())

		final := terminalRun(run.ID)
		Expect(final.Status).To(Equal(store.RunIncomplete))
		Expect(final.Progress).To(Equal(100))
		Expect(final.Summary).To(ContainSubstring("1 failed"))
	})

	It("keeps result rows in submission order", func() {
		items := []store.InspectionItem{
			newItem("third", "true"), newItem("first", "true"), newItem("second", "true"),
		}

		run, err := orchestrator.CreateRun(context.Background(), cluster, items, "suite")
		Expect(err).NotTo(HaveOccurred())

		terminalRun(run.ID)

		results, err := st.GetResults(run.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(3))
		Expect(results[0].ItemName).To(Equal("third"))
		Expect(results[1].ItemName).To(Equal("first"))
		Expect(results[2].ItemName).To(Equal("second"))
	})

	It("rejects a run with no items", func() {
		_, err := orchestrator.CreateRun(context.Background(), cluster, nil, "suite")
		Expect(err).To(HaveOccurred())
	})

	It("idempotently cancels an already-completed run", func() {
		items := []store.InspectionItem{newItem("quick", "true")}

		run, err := orchestrator.CreateRun(context.Background(), cluster, items, "suite")
		Expect(err).NotTo(HaveOccurred())
		terminalRun(run.ID)

		cancelled, err := orchestrator.Cancel(run.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(cancelled.Status).To(Equal(store.RunCompleted))
	})
})
