package ot

import "fmt"

// Transform rewrites two concurrent operations on the same document so each
// applies after the other:
//
//	Apply(Apply(doc, a), bPrime) == Apply(Apply(doc, b), aPrime)
//
// When both insert at the same position, a's text ends up first.
func Transform(a, b Operation) (aPrime, bPrime Operation, err error) {
	return transform(a, b, SideLeft)
}

// TransformSide rewrites op so it applies after other. With SideLeft op wins
// insert ties; with SideRight other does.
func TransformSide(op, other Operation, side Side) (Operation, error) {
	if side != SideLeft && side != SideRight {
		return Operation{}, fmt.Errorf("invalid side %q", side)
	}
	prime, _, err := transform(op, other, side)
	return prime, err
}

// transform walks a and b in lockstep over the shared base document. side
// says whether a's inserts go before b's when both insert at one position.
func transform(a, b Operation, side Side) (Operation, Operation, error) {
	if err := a.Validate(); err != nil {
		return Operation{}, Operation{}, err
	}
	if err := b.Validate(); err != nil {
		return Operation{}, Operation{}, err
	}
	if a.BaseLen() != b.BaseLen() {
		return Operation{}, Operation{}, fmt.Errorf(
			"base lengths differ: a=%d, b=%d", a.BaseLen(), b.BaseLen())
	}

	var ap, bp builder
	ca, cb := cursor{ops: a.Ops}, cursor{ops: b.Ops}

	for !ca.done() || !cb.done() {
		aIns, bIns := ca.atInsert(), cb.atInsert()
		if aIns && (!bIns || side == SideLeft) {
			s := ca.takeInsert()
			ap.insert(s)
			bp.retain(len(s))
			continue
		}
		if bIns {
			s := cb.takeInsert()
			bp.insert(s)
			ap.retain(len(s))
			continue
		}
		if ca.done() || cb.done() {
			return Operation{}, Operation{}, fmt.Errorf("transform ran out of operations")
		}

		n := min(ca.remaining(), cb.remaining())
		aDel, bDel := ca.advance(n), cb.advance(n)
		switch {
		case !aDel && !bDel:
			ap.retain(n)
			bp.retain(n)
		case aDel && !bDel:
			ap.delete(n)
		case !aDel && bDel:
			bp.delete(n)
		}
		// Both deleting the same span leaves nothing for either side.
	}

	return Operation{Ops: ap.ops}, Operation{Ops: bp.ops}, nil
}

// cursor reads a validated component list, splitting retains and deletes
// as the other side demands. Inserts are always taken whole.
type cursor struct {
	ops []Component
	i   int
	off int
}

func (c *cursor) done() bool { return c.i >= len(c.ops) }

func (c *cursor) atInsert() bool { return !c.done() && c.ops[c.i].IsInsert() }

func (c *cursor) takeInsert() string {
	s := c.ops[c.i].Insert
	c.i++
	c.off = 0
	return s
}

// remaining is what is left of the current retain or delete.
func (c *cursor) remaining() int {
	comp := c.ops[c.i]
	if comp.IsDelete() {
		return comp.Delete - c.off
	}
	return comp.Retain - c.off
}

// advance consumes n base characters and reports whether they were deleted.
func (c *cursor) advance(n int) bool {
	deleted := c.ops[c.i].IsDelete()
	if n >= c.remaining() {
		c.i++
		c.off = 0
	} else {
		c.off += n
	}
	return deleted
}

// builder appends components, merging runs of the same kind.
type builder struct {
	ops []Component
}

func (b *builder) last() *Component {
	if len(b.ops) == 0 {
		return nil
	}
	return &b.ops[len(b.ops)-1]
}

func (b *builder) retain(n int) {
	if n == 0 {
		return
	}
	if l := b.last(); l != nil && l.IsRetain() {
		l.Retain += n
		return
	}
	b.ops = append(b.ops, Component{Retain: n})
}

func (b *builder) insert(s string) {
	if s == "" {
		return
	}
	if l := b.last(); l != nil && l.IsInsert() {
		l.Insert += s
		return
	}
	b.ops = append(b.ops, Component{Insert: s})
}

func (b *builder) delete(n int) {
	if n == 0 {
		return
	}
	if l := b.last(); l != nil && l.IsDelete() {
		l.Delete += n
		return
	}
	b.ops = append(b.ops, Component{Delete: n})
}
