/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package report renders a finished run's results as Markdown and PDF
// artifacts under the data directory. Emission is best-effort: a failure
// here is logged as a warning and recorded as an audit entry, and never flips a
// run's own status.
package report

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/qen-labs/inspectord/internal/store"
)

// pageData is what the Markdown template renders from. It is a plain,
// pre-computed struct rather than a live store handle so the template
// itself stays free of business logic.
type pageData struct {
	Run     store.InspectionRun
	Cluster store.Cluster
	Results []store.InspectionResult
}

const markdownTemplateText = `# Inspection Report

**Cluster:** {{ .Cluster.Name }}
**Run ID:** {{ .Run.ID }}
**Status:** {{ .Run.Status }}
**Operator:** {{ .Run.Operator }}
**Summary:** {{ .Run.Summary }}

| Item | Status | Detail | Suggestion |
|------|--------|--------|------------|
{{- range .Results }}
| {{ .ItemName }} | {{ .Status }} | {{ .Detail }} | {{ .Suggestion }} |
{{- end }}
`

var markdownTemplate = template.Must(template.New("report").Parse(markdownTemplateText))

// RenderMarkdown produces the Markdown report body for a run.
func RenderMarkdown(run store.InspectionRun, cluster store.Cluster, results []store.InspectionResult) ([]byte, error) {
	var buf bytes.Buffer
	data := pageData{Run: run, Cluster: cluster, Results: results}
	if err := markdownTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render markdown report: %w", err)
	}
	return buf.Bytes(), nil
}
