package extract

import (
	"encoding/json"
	"fmt"
)

// valueAssembler reconstructs one JSON value from the token stream. The
// extractor spins one up when a row or schema capture begins and feeds it
// every subsequent token; the assembled value is delivered when the
// assembler's own depth returns to zero. Several assemblers may be active at
// once; each is driven independently with every token.
type valueAssembler struct {
	stack []builder
	value any
	done  bool
}

type builder interface {
	add(v any)
	finish() any
}

type objectBuilder struct {
	m      map[string]any
	key    string
	hasKey bool
}

func (b *objectBuilder) add(v any) {
	if !b.hasKey {
		// Keys are strings; the caller routes key tokens here.
		b.key, _ = v.(string)
		b.hasKey = true
		return
	}
	b.m[b.key] = v
	b.hasKey = false
}

func (b *objectBuilder) finish() any { return b.m }

type arrayBuilder struct {
	s []any
}

func (b *arrayBuilder) add(v any) { b.s = append(b.s, v) }

func (b *arrayBuilder) finish() any {
	if b.s == nil {
		return []any{}
	}
	return b.s
}

// feed consumes one token. It returns the assembled value and true once the
// value is complete.
func (a *valueAssembler) feed(tok json.Token) (any, bool, error) {
	if a.done {
		return nil, true, fmt.Errorf("assembler fed after completion")
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			a.stack = append(a.stack, &objectBuilder{m: make(map[string]any)})
		case '[':
			a.stack = append(a.stack, &arrayBuilder{})
		case '}', ']':
			if len(a.stack) == 0 {
				return nil, false, fmt.Errorf("unbalanced close delimiter")
			}
			top := a.stack[len(a.stack)-1]
			a.stack = a.stack[:len(a.stack)-1]
			return a.deliver(top.finish())
		}
		return nil, false, nil

	default:
		return a.deliver(t)
	}
}

func (a *valueAssembler) deliver(v any) (any, bool, error) {
	if len(a.stack) == 0 {
		a.value = v
		a.done = true
		return v, true, nil
	}
	a.stack[len(a.stack)-1].add(v)
	return nil, false, nil
}
