// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package annotation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/acp/services/acp/diag"
)

// resolveProvenance walks a block's parsed items in order and applies each
// run of @acp:source* markers to the directives since the previous run (or
// block start). Directives not covered by any run keep the explicit default.
func (l *Lexer) resolveProvenance(path string, items []parsedItem) ([]AnnotationRecord, []diag.Diagnostic, error) {
	var (
		records []AnnotationRecord
		diags   []diag.Diagnostic
		segment []int
	)

	i := 0
	for i < len(items) {
		if rec := items[i].rec; rec != nil {
			rec.Provenance = explicitProvenance()
			records = append(records, *rec)
			segment = append(segment, len(records)-1)
			i++
			continue
		}

		var group []*provMark
		for i < len(items) && items[i].prov != nil {
			group = append(group, items[i].prov)
			i++
		}
		prov, ds, err := l.buildProvenance(path, group)
		diags = append(diags, ds...)
		if err != nil {
			return nil, diags, err
		}
		for _, ri := range segment {
			records[ri].Provenance = prov
			records[ri].Provenance.resolveNeedsReview(l.reviewThreshold)
		}
		segment = segment[:0]
	}
	return records, diags, nil
}

// buildProvenance reduces one marker run to a Provenance. Later markers of
// the same kind override earlier ones inside the run.
func (l *Lexer) buildProvenance(path string, group []*provMark) (Provenance, []diag.Diagnostic, error) {
	p := explicitProvenance()
	var diags []diag.Diagnostic

	for _, m := range group {
		switch m.namespace {
		case "source":
			origin := Origin(m.value)
			if !knownOrigins[origin] {
				diags = append(diags, diag.Malformed(path, m.line, m.line,
					fmt.Sprintf("unknown provenance origin %q, defaulting to heuristic", m.value)))
				origin = OriginHeuristic
			}
			p.Origin = origin

		case "source-confidence":
			v, err := strconv.ParseFloat(m.value, 64)
			if err != nil {
				d := diag.Malformed(path, m.line, m.line,
					fmt.Sprintf("unparsable confidence %q", m.value))
				if l.mode == ModeStrict {
					return p, diags, &MalformedAnnotationError{Diag: d}
				}
				diags = append(diags, d)
				continue
			}
			if v < 0 || v > 1 {
				d := diag.Malformed(path, m.line, m.line,
					fmt.Sprintf("confidence %s outside [0,1]", m.value))
				if l.mode == ModeStrict {
					return p, diags, &MalformedAnnotationError{Diag: d}
				}
				diags = append(diags, d)
				if v < 0 {
					v = 0
				} else {
					v = 1
				}
			}
			p.Confidence = &v

		case "source-reviewed":
			switch strings.ToLower(m.value) {
			case "", "true", "yes":
				p.Reviewed = true
			case "false", "no":
				p.Reviewed = false
			default:
				diags = append(diags, diag.Malformed(path, m.line, m.line,
					fmt.Sprintf("unparsable reviewed flag %q", m.value)))
			}

		case "source-generation":
			p.GenerationID = m.value

		case "source-date":
			if _, err := time.Parse(time.RFC3339, m.value); err != nil {
				diags = append(diags, diag.Malformed(path, m.line, m.line,
					fmt.Sprintf("unparsable provenance date %q, want RFC 3339", m.value)))
				continue
			}
			p.CreatedAt = m.value
		}
	}
	return p, diags, nil
}
