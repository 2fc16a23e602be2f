// Package cache persists compiled programs: a canonical CBOR wire format and
// a SQLite-backed store keyed by source content hash.
package cache

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/zuisong/chen-lang/vm"
)

// cborEncMode is the canonical CBOR encoding mode, so equal programs encode
// to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cache: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Wire representation
// ---------------------------------------------------------------------------

// wireProgram mirrors vm.Program with every constant flattened to a
// serializable shape.
type wireProgram struct {
	Name      string                 `cbor:"1,keyasint"`
	Entry     int                    `cbor:"2,keyasint"`
	TopLocals int                    `cbor:"3,keyasint"`
	Code      []wireInstruction      `cbor:"4,keyasint"`
	Syms      map[string]*wireSymbol `cbor:"5,keyasint"`
	Labels    map[string]int         `cbor:"6,keyasint"`
}

type wireInstruction struct {
	Op   uint8      `cbor:"1,keyasint"`
	Sym  string     `cbor:"2,keyasint,omitempty"`
	N    int        `cbor:"3,keyasint,omitempty"`
	Val  *wireValue `cbor:"4,keyasint,omitempty"`
	Line int        `cbor:"5,keyasint,omitempty"`
}

type wireSymbol struct {
	Label     string `cbor:"1,keyasint"`
	Location  int    `cbor:"2,keyasint"`
	NumArgs   int    `cbor:"3,keyasint"`
	NumLocals int    `cbor:"4,keyasint"`
}

// wireValue carries the constant kinds a compiler can emit: null, integers,
// decimals (textual), booleans, strings and function descriptors.
type wireValue struct {
	Kind uint8         `cbor:"1,keyasint"`
	Int  int64         `cbor:"2,keyasint,omitempty"`
	Bool bool          `cbor:"3,keyasint,omitempty"`
	Str  string        `cbor:"4,keyasint,omitempty"`
	Fn   *wireFunction `cbor:"5,keyasint,omitempty"`
}

type wireFunction struct {
	Name      string   `cbor:"1,keyasint"`
	Label     string   `cbor:"2,keyasint"`
	NumArgs   int      `cbor:"3,keyasint"`
	NumLocals int      `cbor:"4,keyasint"`
	Params    []string `cbor:"5,keyasint,omitempty"`
}

// ---------------------------------------------------------------------------
// Marshal / Unmarshal
// ---------------------------------------------------------------------------

// MarshalProgram serializes a resolved program to CBOR bytes.
func MarshalProgram(p *vm.Program) ([]byte, error) {
	wp := &wireProgram{
		Name:      p.Name,
		Entry:     p.Entry,
		TopLocals: p.TopLocals,
		Code:      make([]wireInstruction, len(p.Code)),
		Syms:      make(map[string]*wireSymbol, len(p.Syms)),
		Labels:    p.Labels,
	}
	for i, inst := range p.Code {
		wv, err := encodeValue(inst.Val)
		if err != nil {
			return nil, fmt.Errorf("cache: instruction %d: %w", i, err)
		}
		wp.Code[i] = wireInstruction{
			Op:   uint8(inst.Op),
			Sym:  inst.Sym,
			N:    inst.N,
			Val:  wv,
			Line: inst.Line,
		}
	}
	for name, sym := range p.Syms {
		wp.Syms[name] = &wireSymbol{
			Label:     sym.Label,
			Location:  sym.Location,
			NumArgs:   sym.NumArgs,
			NumLocals: sym.NumLocals,
		}
	}
	return cborEncMode.Marshal(wp)
}

// UnmarshalProgram rebuilds a program from CBOR bytes. Function constants are
// re-bound to the decoded program.
func UnmarshalProgram(data []byte) (*vm.Program, error) {
	var wp wireProgram
	if err := cbor.Unmarshal(data, &wp); err != nil {
		return nil, fmt.Errorf("cache: unmarshal program: %w", err)
	}
	p := vm.NewProgram(wp.Name)
	p.Entry = wp.Entry
	p.TopLocals = wp.TopLocals
	if wp.Labels != nil {
		p.Labels = wp.Labels
	}
	p.Code = make([]vm.Instruction, len(wp.Code))
	for i, wi := range wp.Code {
		v, err := decodeValue(wi.Val)
		if err != nil {
			return nil, fmt.Errorf("cache: instruction %d: %w", i, err)
		}
		p.Code[i] = vm.Instruction{
			Op:   vm.Opcode(wi.Op),
			Sym:  wi.Sym,
			N:    wi.N,
			Val:  v,
			Line: wi.Line,
		}
	}
	for name, ws := range wp.Syms {
		p.Syms[name] = &vm.Symbol{
			Label:     ws.Label,
			Location:  ws.Location,
			NumArgs:   ws.NumArgs,
			NumLocals: ws.NumLocals,
		}
	}
	for i := range p.Code {
		if fn := p.Code[i].Val.AsFunction(); fn != nil {
			fn.Prog = p
		}
	}
	return p, nil
}

func encodeValue(v vm.Value) (*wireValue, error) {
	switch v.Kind() {
	case vm.KindNull:
		return nil, nil
	case vm.KindInt:
		n, _ := v.AsInt()
		return &wireValue{Kind: uint8(vm.KindInt), Int: n}, nil
	case vm.KindDecimal:
		d, _ := v.AsDecimal()
		return &wireValue{Kind: uint8(vm.KindDecimal), Str: d.Text('f')}, nil
	case vm.KindBool:
		b, _ := v.AsBool()
		return &wireValue{Kind: uint8(vm.KindBool), Bool: b}, nil
	case vm.KindString:
		s, _ := v.AsString()
		return &wireValue{Kind: uint8(vm.KindString), Str: s}, nil
	case vm.KindFunction:
		fn := v.AsFunction()
		return &wireValue{Kind: uint8(vm.KindFunction), Fn: &wireFunction{
			Name:      fn.Name,
			Label:     fn.Label,
			NumArgs:   fn.NumArgs,
			NumLocals: fn.NumLocals,
			Params:    fn.Params,
		}}, nil
	}
	return nil, fmt.Errorf("constant of kind %s is not serializable", v.Kind())
}

func decodeValue(wv *wireValue) (vm.Value, error) {
	if wv == nil {
		return vm.Null, nil
	}
	switch vm.Kind(wv.Kind) {
	case vm.KindNull:
		return vm.Null, nil
	case vm.KindInt:
		return vm.Int(wv.Int), nil
	case vm.KindDecimal:
		return vm.ParseDecimal(wv.Str)
	case vm.KindBool:
		return vm.Bool(wv.Bool), nil
	case vm.KindString:
		return vm.Str(wv.Str), nil
	case vm.KindFunction:
		if wv.Fn == nil {
			return vm.Null, fmt.Errorf("function constant missing descriptor")
		}
		return vm.FuncValue(&vm.Function{
			Name:      wv.Fn.Name,
			Label:     wv.Fn.Label,
			NumArgs:   wv.Fn.NumArgs,
			NumLocals: wv.Fn.NumLocals,
			Params:    wv.Fn.Params,
		}), nil
	}
	return vm.Null, fmt.Errorf("unknown constant kind %d", wv.Kind)
}
