// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/acp/services/acp/diag"
)

// SchemaVersion is the cache document schema version. Increment on any
// breaking change to the serialized shape; loaders fail closed on mismatch.
const SchemaVersion = "1.0"

// Hash computes the document's canonical sha256: the compact JSON encoding
// with CacheHash empty. JSON map keys marshal sorted and all slice fields
// are stored sorted, so the hash is stable across rebuilds of identical
// input.
func Hash(c *CacheRoot) (string, error) {
	shallow := *c
	shallow.CacheHash = ""
	data, err := json.Marshal(&shallow)
	if err != nil {
		return "", fmt.Errorf("marshaling cache for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Encode renders the document as indented JSON with SchemaVersion and
// CacheHash stamped. The input is not modified.
func Encode(c *CacheRoot) ([]byte, error) {
	out := *c
	out.SchemaVersion = SchemaVersion

	h, err := Hash(&out)
	if err != nil {
		return nil, err
	}
	out.CacheHash = h

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling cache document: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a cache document, failing closed on any schema version this
// build does not understand. There is no partial decode of an incompatible
// document.
func Decode(data []byte) (*CacheRoot, error) {
	var versionProbe struct {
		SchemaVersion string `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &versionProbe); err != nil {
		return nil, fmt.Errorf("parsing cache document: %w", err)
	}
	if versionProbe.SchemaVersion != SchemaVersion {
		return nil, &diag.IncompatibleCacheError{Found: versionProbe.SchemaVersion, Want: SchemaVersion}
	}

	var c CacheRoot
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing cache document: %w", err)
	}
	if c.Files == nil {
		c.Files = make(map[string]*FileEntry)
	}
	if c.Symbols == nil {
		c.Symbols = make(map[string]*SymbolEntry)
	}
	if c.ContentHashes == nil {
		c.ContentHashes = make(map[string]string)
	}
	return &c, nil
}

// Verify recomputes the canonical hash and compares it with the stamped
// CacheHash. A document that never passed through Encode has no stamp and
// verifies trivially.
func Verify(c *CacheRoot) error {
	if c.CacheHash == "" {
		return nil
	}
	h, err := Hash(c)
	if err != nil {
		return err
	}
	if h != c.CacheHash {
		return fmt.Errorf("cache hash mismatch: document says %s, content hashes to %s", c.CacheHash, h)
	}
	return nil
}
