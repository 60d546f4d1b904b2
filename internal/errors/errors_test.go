// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package errors

import (
	"errors"
	"testing"
)

func TestError(t *testing.T) {
	err := New(KindValidation, "invalid rule")
	if err.Error() != "invalid rule" {
		t.Errorf("expected 'invalid rule', got '%s'", err.Error())
	}

	wrapped := Wrap(err, KindInternal, "failed to compile")
	if wrapped.Error() != "failed to compile: invalid rule" {
		t.Errorf("expected 'failed to compile: invalid rule', got '%s'", wrapped.Error())
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindValidation, "invalid rule")
	if GetKind(err) != KindValidation {
		t.Errorf("expected KindValidation, got %v", GetKind(err))
	}

	wrapped := Wrap(err, KindInternal, "failed")
	if GetKind(wrapped) != KindInternal {
		t.Errorf("expected KindInternal, got %v", GetKind(wrapped))
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", GetKind(errors.New("std error")))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, KindInternal, "x") != nil {
		t.Error("wrapping nil must yield nil")
	}
	if Wrapf(nil, KindInternal, "x %d", 1) != nil {
		t.Error("wrapping nil must yield nil")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindUnknown:    "unknown",
		KindInternal:   "internal",
		KindValidation: "validation",
		KindNotFound:   "not_found",
		KindLimit:      "limit",
	}
	for k, want := range cases {
		if k.String() != want {
			t.Errorf("Kind(%d): expected %q, got %q", k, want, k.String())
		}
	}
}

func TestUnwrap(t *testing.T) {
	inner := New(KindLimit, "byte budget exhausted")
	outer := Wrap(inner, KindInternal, "stream close")
	if !errors.Is(outer, outer) || GetKind(errors.Unwrap(outer)) != KindLimit {
		t.Error("unwrap must surface the inner error")
	}
}
