package vm

import (
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// ---------------------------------------------------------------------------
// JSON bridge
// ---------------------------------------------------------------------------

// registerJSONNatives installs the JSON global with parse and stringify.
// Both preserve object key order; numbers with a fraction or exponent decode
// as Decimal so precision survives a round trip.
func (vm *VM) registerJSONNatives() {
	vm.RegisterNative("json.parse", 1, nativeJSONParse)
	vm.RegisterNative("json.stringify", 1, nativeJSONStringify)
	t := NewTable()
	t.Set("parse", vm.Native("json.parse"))
	t.Set("stringify", vm.Native("json.stringify"))
	vm.Globals["JSON"] = ObjectOf(t)
}

func nativeJSONParse(vm *VM, args []Value) (Value, *RuntimeError) {
	s, ok := args[0].AsString()
	if !ok {
		return Null, Errf(ErrType, "JSON.parse expects a string, got %s", args[0].Kind())
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	v, err := decodeJSONValue(dec)
	if err != nil {
		return Null, Errf(ErrType, "JSON.parse: %v", err)
	}
	return v, nil
}

// decodeJSONValue consumes one JSON value at the decoder's token level,
// building objects in document key order.
func decodeJSONValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Null, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := NewTable()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Null, err
				}
				key := keyTok.(string)
				v, err := decodeJSONValue(dec)
				if err != nil {
					return Null, err
				}
				obj.Set(key, v)
			}
			if _, err := dec.Token(); err != nil { // closing brace
				return Null, err
			}
			return ObjectOf(obj), nil
		case '[':
			var elems []Value
			for dec.More() {
				v, err := decodeJSONValue(dec)
				if err != nil {
					return Null, err
				}
				elems = append(elems, v)
			}
			if _, err := dec.Token(); err != nil { // closing bracket
				return Null, err
			}
			return NewArray(elems), nil
		}
		return Null, nil
	case string:
		return Str(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return decodeJSONNumber(t)
	case nil:
		return Null, nil
	}
	return Null, nil
}

// decodeJSONNumber keeps integers as Integer and anything fractional or
// exponential as Decimal.
func decodeJSONNumber(n json.Number) (Value, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i), nil
		}
	}
	return ParseDecimal(s)
}

func nativeJSONStringify(vm *VM, args []Value) (Value, *RuntimeError) {
	var sb strings.Builder
	seen := make(map[interface{}]bool)
	if re := encodeJSONValue(&sb, args[0], seen); re != nil {
		return Null, re
	}
	return Str(sb.String()), nil
}

// encodeJSONValue writes the JSON form of v. Shared cells are tracked to
// reject cycles.
func encodeJSONValue(sb *strings.Builder, v Value, seen map[interface{}]bool) *RuntimeError {
	switch v.Kind() {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		b, _ := v.AsBool()
		sb.WriteString(strconv.FormatBool(b))
	case KindInt:
		n, _ := v.AsInt()
		sb.WriteString(strconv.FormatInt(n, 10))
	case KindDecimal:
		d, _ := v.AsDecimal()
		sb.WriteString(formatDecimal(d))
	case KindString:
		s, _ := v.AsString()
		q, err := json.Marshal(s)
		if err != nil {
			return Errf(ErrType, "JSON.stringify: %v", err)
		}
		sb.Write(q)
	case KindArray:
		arr := v.AsArray()
		if seen[arr] {
			return Errf(ErrType, "JSON.stringify: cyclic structure")
		}
		seen[arr] = true
		sb.WriteByte('[')
		for i, e := range arr.Elems {
			if i > 0 {
				sb.WriteByte(',')
			}
			if re := encodeJSONValue(sb, e, seen); re != nil {
				return re
			}
		}
		sb.WriteByte(']')
		delete(seen, arr)
	case KindObject:
		obj := v.AsObject()
		if seen[obj] {
			return Errf(ErrType, "JSON.stringify: cyclic structure")
		}
		seen[obj] = true
		sb.WriteByte('{')
		for i, k := range obj.Keys() {
			if i > 0 {
				sb.WriteByte(',')
			}
			q, err := json.Marshal(k)
			if err != nil {
				return Errf(ErrType, "JSON.stringify: %v", err)
			}
			sb.Write(q)
			sb.WriteByte(':')
			ev, _ := obj.Get(k)
			if re := encodeJSONValue(sb, ev, seen); re != nil {
				return re
			}
		}
		sb.WriteByte('}')
		delete(seen, obj)
	default:
		return Errf(ErrType, "JSON.stringify: cannot serialize %s", v.Kind())
	}
	return nil
}
