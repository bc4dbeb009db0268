/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/qen-labs/inspectord/internal/store"
)

// RenderPDF produces a minimal single-font, single-column PDF rendering of
// a run's results. There is no PDF library anywhere in this project's
// dependency stack to reach for, so this writes the PDF object structure
// directly: a handful of objects (catalog, page tree, one page, one font,
// one content stream) assembled by hand, with an accurate cross-reference
// table. It intentionally does not attempt pagination, wrapping, or any
// layout beyond fixed-size lines — good enough for an operator to read
// through a run's outcome, not a general-purpose renderer.
func RenderPDF(run store.InspectionRun, cluster store.Cluster, results []store.InspectionResult) ([]byte, error) {
	lines := reportLines(run, cluster, results)
	content := buildContentStream(lines)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, 0, 5)
	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(body)
	}

	writeObj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	writeObj("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	writeObj("3 0 obj\n<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 5 0 R >> >> /MediaBox [0 0 612 792] /Contents 4 0 R >>\nendobj\n")
	writeObj(fmt.Sprintf("4 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(content), content))
	writeObj("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	xrefStart := buf.Len()
	buf.WriteString(fmt.Sprintf("xref\n0 %d\n", len(offsets)+1))
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		buf.WriteString(fmt.Sprintf("%010d 00000 n \n", off))
	}
	buf.WriteString(fmt.Sprintf("trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF", len(offsets)+1, xrefStart))

	return buf.Bytes(), nil
}

func reportLines(run store.InspectionRun, cluster store.Cluster, results []store.InspectionResult) []string {
	lines := []string{
		"Inspection Report",
		"Cluster: " + cluster.Name,
		"Run ID: " + run.ID,
		"Status: " + run.Status,
		"Summary: " + run.Summary,
		"",
	}
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("- %s [%s] %s", r.ItemName, r.Status, r.Detail))
	}
	return lines
}

// buildContentStream produces the PDF content-stream operators for a
// simple top-down listing of lines in 10pt Helvetica.
func buildContentStream(lines []string) string {
	var sb strings.Builder
	sb.WriteString("BT\n/F1 10 Tf\n14 TL\n50 742 Td\n")
	for i, line := range lines {
		if i > 0 {
			sb.WriteString("T*\n")
		}
		sb.WriteString("(" + escapePDFString(line) + ") Tj\n")
	}
	sb.WriteString("ET")
	return sb.String()
}

// escapePDFString escapes the three characters that are special inside a
// PDF literal string: backslash and the two parentheses.
func escapePDFString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `(`, `\(`)
	s = strings.ReplaceAll(s, `)`, `\)`)
	return s
}
