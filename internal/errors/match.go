// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package errors

// Template names the aspects of a domain error a caller wants to assert:
// the Code, the Kind the code belongs to, or the Op that raised it.  Unset
// fields match anything.
type Template struct {
	Code Code
	Kind Kind
	Op   Op
}

// T builds a Template from its arguments: a Code, a Kind or an Op, in any
// order.  When arguments of the same type repeat, the last one wins;
// anything else is ignored.
func T(args ...any) *Template {
	t := &Template{}
	for _, a := range args {
		switch arg := a.(type) {
		case Code:
			t.Code = arg
		case Kind:
			t.Kind = arg
		case Op:
			t.Op = arg
		}
	}
	return t
}

// Match reports whether err, or any domain error it wraps, satisfies every
// field set on the template.  A non-domain error never matches.
func Match(t *Template, err error) bool {
	if t == nil || err == nil {
		return false
	}
	for err != nil {
		var e *Err
		if !As(err, &e) {
			return false
		}
		if t.matches(e) {
			return true
		}
		err = e.Unwrap()
	}
	return false
}

func (t *Template) matches(e *Err) bool {
	if t.Code != Unknown && t.Code != e.Code {
		return false
	}
	if t.Kind != Other && t.Kind != e.Info().Kind {
		return false
	}
	if t.Op != "" && t.Op != e.Op {
		return false
	}
	return true
}
