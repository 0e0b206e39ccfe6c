// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"errors"
	"testing"
)

const goTestSource = `package payments

import (
	"context"
	"fmt"

	gw "example.com/pay/gateway"
	_ "example.com/pay/driver"
	. "example.com/pay/dsl"
)

const MaxRetries = 5

var (
	defaultTimeout      = 30
	Published, ErrEmpty = publish(), fmt.Errorf("empty")
)

type Processor struct {
	gateway gw.Client
}

type Charger interface {
	Charge(ctx context.Context, amount int) error
}

func New(ctx context.Context) (*Processor, error) {
	cfg := loadConfig()
	return &Processor{gateway: gw.Dial(cfg)}, nil
}

func (p *Processor) Charge(ctx context.Context, amount int) error {
	if err := p.validate(amount); err != nil {
		return fmt.Errorf("charge: %w", err)
	}
	return p.gateway.Submit(ctx, amount)
}

func (p *Processor) validate(amount int) error { return nil }

func loadConfig() int { return 0 }

func publish() int { return 1 }
`

func extractGo(t *testing.T, source string) *FileStructure {
	t.Helper()
	fs, err := NewGoExtractor().Extract(context.Background(), "payments.go", []byte(source))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	return fs
}

func findSymbol(t *testing.T, fs *FileStructure, name string) Symbol {
	t.Helper()
	for _, sym := range fs.Symbols {
		if sym.Name == name {
			return sym
		}
	}
	t.Fatalf("symbol %q not found in %d symbols", name, len(fs.Symbols))
	return Symbol{}
}

func TestGoExtractor_Extract_Symbols(t *testing.T) {
	fs := extractGo(t, goTestSource)

	if fs.Package != "payments" {
		t.Errorf("package = %q, want payments", fs.Package)
	}

	tests := []struct {
		name     string
		kind     SymbolKind
		receiver string
		exported bool
	}{
		{"MaxRetries", KindConst, "", true},
		{"defaultTimeout", KindVar, "", false},
		{"Published", KindVar, "", true},
		{"ErrEmpty", KindVar, "", true},
		{"Processor", KindType, "", true},
		{"Charger", KindInterface, "", true},
		{"New", KindFunction, "", true},
		{"Charge", KindMethod, "Processor", true},
		{"validate", KindMethod, "Processor", false},
		{"loadConfig", KindFunction, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sym := findSymbol(t, fs, tt.name)
			if sym.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", sym.Kind, tt.kind)
			}
			if sym.Receiver != tt.receiver {
				t.Errorf("receiver = %q, want %q", sym.Receiver, tt.receiver)
			}
			if sym.Exported != tt.exported {
				t.Errorf("exported = %v, want %v", sym.Exported, tt.exported)
			}
		})
	}
}

func TestGoExtractor_Extract_Imports(t *testing.T) {
	fs := extractGo(t, goTestSource)

	if len(fs.Imports) != 5 {
		t.Fatalf("imports = %d, want 5", len(fs.Imports))
	}

	byPath := make(map[string]Import, len(fs.Imports))
	for _, imp := range fs.Imports {
		byPath[imp.Path] = imp
	}

	if imp := byPath["example.com/pay/gateway"]; imp.Alias != "gw" {
		t.Errorf("gateway alias = %q, want gw", imp.Alias)
	}
	if imp := byPath["example.com/pay/driver"]; imp.Alias != "_" {
		t.Errorf("driver alias = %q, want _", imp.Alias)
	}
	if imp := byPath["example.com/pay/dsl"]; !imp.Wildcard {
		t.Error("dot import not flagged as wildcard")
	}
	if imp := byPath["context"]; imp.Alias != "" || imp.Wildcard {
		t.Errorf("plain import got alias %q wildcard %v", imp.Alias, imp.Wildcard)
	}
}

func TestGoExtractor_Extract_Calls(t *testing.T) {
	fs := extractGo(t, goTestSource)

	charge := findSymbol(t, fs, "Charge")
	want := []string{"p.validate", "fmt.Errorf", "Submit"}
	if len(charge.Calls) != len(want) {
		t.Fatalf("Charge calls = %v, want %v", charge.Calls, want)
	}
	for i, w := range want {
		if charge.Calls[i].Callee != w {
			t.Errorf("call %d = %q, want %q", i, charge.Calls[i].Callee, w)
		}
	}

	nw := findSymbol(t, fs, "New")
	if len(nw.Calls) != 2 || nw.Calls[0].Callee != "loadConfig" || nw.Calls[1].Callee != "gw.Dial" {
		t.Errorf("New calls = %v, want [loadConfig gw.Dial]", nw.Calls)
	}
}

func TestGoExtractor_Extract_Signature(t *testing.T) {
	fs := extractGo(t, goTestSource)

	charge := findSymbol(t, fs, "Charge")
	want := "func (p *Processor) Charge(ctx context.Context, amount int) error"
	if charge.Signature != want {
		t.Errorf("signature = %q, want %q", charge.Signature, want)
	}

	proc := findSymbol(t, fs, "Processor")
	if proc.Signature != "type Processor struct" {
		t.Errorf("type signature = %q, want %q", proc.Signature, "type Processor struct")
	}
}

func TestGoExtractor_Extract_FileTooLarge(t *testing.T) {
	e := NewGoExtractor(WithMaxFileSize(16))
	_, err := e.Extract(context.Background(), "big.go", []byte(goTestSource))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("error = %v, want ErrFileTooLarge", err)
	}
}

func TestGoExtractor_Extract_InvalidUTF8(t *testing.T) {
	_, err := NewGoExtractor().Extract(context.Background(), "bad.go", []byte{0xff, 0xfe, 0xfd})
	if !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("error = %v, want ErrInvalidContent", err)
	}
}

func TestGoExtractor_Extract_SyntaxErrorsArePartial(t *testing.T) {
	fs := extractGo(t, "package broken\n\nfunc ok() {}\n\nfunc unfinished(")
	if !fs.HasSyntaxErrors {
		t.Error("HasSyntaxErrors = false, want true")
	}
	findSymbol(t, fs, "ok")
}

func TestGoExtractor_Extract_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewGoExtractor().Extract(ctx, "x.go", []byte("package x")); err == nil {
		t.Fatal("Extract() with canceled context returned nil error")
	}
}
