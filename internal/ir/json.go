package ir

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// MarshalJSON encodes a Type as a bare string for a primitive, or
// {"ptr": inner} for a pointer, recursively.
func (t Type) MarshalJSON() ([]byte, error) {
	if t.Elem != nil {
		return json.Marshal(struct {
			Ptr Type `json:"ptr"`
		}{Ptr: *t.Elem})
	}
	return json.Marshal(t.Name)
}

// UnmarshalJSON decodes a bare string as a primitive type, or {"ptr": ...}
// as a pointer type.
func (t *Type) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		t.Name = name
		t.Elem = nil
		return nil
	}

	var wrapper struct {
		Ptr Type `json:"ptr"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return errors.Wrap(err, "decoding type")
	}
	t.Name = ""
	t.Elem = &wrapper.Ptr
	return nil
}

// wireInstruction is the on-the-wire shape of an Instruction: every field
// but op is optional, and a bare {"label": ...} object is a label
// instruction rather than an opcode one.
type wireInstruction struct {
	Label  *string         `json:"label,omitempty"`
	Op     *string         `json:"op,omitempty"`
	Dest   *string         `json:"dest,omitempty"`
	Type   *Type           `json:"type,omitempty"`
	Args   []string        `json:"args,omitempty"`
	Labels []string        `json:"labels,omitempty"`
	Funcs  []string        `json:"funcs,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes an Instruction as its minimal on-the-wire shape:
// a label instruction carries only "label"; everything else carries "op"
// plus whichever optional fields are actually set.
func (i Instruction) MarshalJSON() ([]byte, error) {
	if i.IsLabel() {
		return json.Marshal(wireInstruction{Label: &i.Label})
	}

	w := wireInstruction{Op: &i.Op}
	if i.Dest != "" {
		w.Dest = &i.Dest
	}
	if i.Type != nil {
		w.Type = i.Type
	}
	w.Args = i.Args
	w.Labels = i.Labels
	w.Funcs = i.Funcs
	if i.Value != nil {
		raw, err := json.Marshal(i.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding value of %s instruction", i.Op)
		}
		w.Value = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes an Instruction from its wire shape.
func (i *Instruction) UnmarshalJSON(data []byte) error {
	var w wireInstruction
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return errors.Wrap(err, "decoding instruction")
	}

	if w.Label != nil {
		*i = Instruction{Label: *w.Label}
		return nil
	}

	if w.Op == nil {
		return errors.New("instruction has neither label nor op")
	}

	next := Instruction{
		Op:     *w.Op,
		Args:   w.Args,
		Labels: w.Labels,
		Funcs:  w.Funcs,
		Type:   w.Type,
	}
	if w.Dest != nil {
		next.Dest = *w.Dest
	}
	if len(w.Value) > 0 {
		val, err := decodeValue(w.Value)
		if err != nil {
			return errors.Wrapf(err, "decoding value of %s instruction", next.Op)
		}
		next.Value = val
	}
	*i = next
	return nil
}

// decodeValue decodes a raw JSON literal into int64, float64, bool, or
// string, preferring int64 for integral numbers so constant folding on
// integer opcodes doesn't silently become float arithmetic.
func decodeValue(raw json.RawMessage) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	num, ok := v.(json.Number)
	if !ok {
		return v, nil
	}
	if i, err := num.Int64(); err == nil {
		return i, nil
	}
	f, err := num.Float64()
	if err != nil {
		return nil, err
	}
	return f, nil
}
