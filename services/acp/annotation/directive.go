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

import "fmt"

// lockDefaults are the conventional directive texts per lock level.
var lockDefaults = map[string]string{
	"frozen":            "MUST NOT modify this code under any circumstances",
	"restricted":        "Explain proposed changes and wait for explicit approval",
	"approval-required": "Propose changes and request confirmation before applying",
	"tests-required":    "All changes must include corresponding tests",
	"docs-required":     "All changes must update documentation",
	"review-required":   "Changes require code review before merging",
	"normal":            "Safe to modify following project conventions",
	"experimental":      "Experimental code - changes welcome but may be unstable",
}

// DefaultDirective returns the conventional directive text synthesized for a
// known namespace when the author omitted the " - " part, or "" when the
// namespace has no convention. The empty default is what makes a missing
// directive fatal under strict mode and merely empty for custom namespaces.
func DefaultDirective(namespace, value string) string {
	switch namespace {
	case "lock":
		if value == "" {
			return lockDefaults["normal"]
		}
		return lockDefaults[value]
	case "ref":
		if value == "" {
			return ""
		}
		return fmt.Sprintf("Consult %s before making changes", value)
	case "hack":
		return "Temporary workaround - check expiry before modifying"
	case "deprecated":
		return "Do not use or extend - see replacement annotation"
	case "todo":
		return "Pending work item - address before release"
	case "fixme":
		return "Known issue requiring fix - prioritize resolution"
	case "critical":
		return "Critical section - changes require extra review"
	case "perf":
		return "Performance-sensitive code - benchmark any changes"
	case "purpose", "summary":
		return value
	default:
		return ""
	}
}
