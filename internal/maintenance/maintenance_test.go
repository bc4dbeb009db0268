/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package maintenance

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/qen-labs/inspectord/internal/store"
)

func TestIsScheduleDue(t *testing.T) {
	created := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		schedule  string
		lastRunAt *time.Time
		now       time.Time
		want      bool
		wantErr   bool
	}{
		{
			name:     "empty schedule never fires",
			schedule: "",
			now:      created.Add(time.Hour),
			want:     false,
		},
		{
			name:     "duration elapsed",
			schedule: "30m",
			now:      created.Add(31 * time.Minute),
			want:     true,
		},
		{
			name:     "duration not yet elapsed",
			schedule: "30m",
			now:      created.Add(29 * time.Minute),
			want:     false,
		},
		{
			name:      "duration anchored to last run",
			schedule:  "30m",
			lastRunAt: timePtr(created.Add(40 * time.Minute)),
			now:       created.Add(45 * time.Minute),
			want:      false,
		},
		{
			name:     "cron expression fires past the boundary",
			schedule: "0 3 * * *",
			now:      time.Date(2026, 7, 1, 3, 0, 30, 0, time.UTC),
			want:     true,
		},
		{
			name:     "cron expression before the boundary",
			schedule: "0 3 * * *",
			now:      time.Date(2026, 7, 1, 2, 59, 0, 0, time.UTC),
			want:     false,
		},
		{
			name:     "garbage schedule",
			schedule: "every full moon",
			now:      created.Add(time.Hour),
			wantErr:  true,
		},
		{
			name:     "zero interval",
			schedule: "0s",
			now:      created.Add(time.Hour),
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := isScheduleDue(tt.schedule, created, tt.lastRunAt, tt.now)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("isScheduleDue: %v", err)
			}
			if got != tt.want {
				t.Fatalf("due = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSweep_PrunesOldAuditEntries(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if _, err := st.RecordAudit("tester", "noop", "", ""); err != nil {
		t.Fatalf("RecordAudit: %v", err)
	}

	j := New(st, nil, Options{
		DBPath:         dbPath,
		AuditRetention: time.Hour,
	})
	// A cutoff in the future forces the just-written entry out.
	j.Sweep(time.Now().UTC().Add(2 * time.Hour))

	entries, err := st.ListAudit(store.AuditFilter{})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected audit log to be pruned, found %d entries", len(entries))
	}
}

func timePtr(t time.Time) *time.Time { return &t }
