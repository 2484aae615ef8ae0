// Package packet implements the two wire envelopes exchanged once a frame's
// length prefix has been stripped: the ProcedurePacket a client sends and
// the ReturnPacket a server sends back.
package packet

import (
	"bytes"
	"fmt"
	"reflect"

	"reactorpc/codec"
)

// Code is a ReturnPacket's status.
type Code int

const (
	// Success indicates the procedure ran and its payload is valid.
	Success Code = 0
	// Unknown indicates the procedure was found but raised an error or
	// panicked; the payload is undefined.
	Unknown Code = 1
	// NoSuchProcedure indicates no procedure was registered under the
	// requested name; the payload is empty.
	NoSuchProcedure Code = 2
)

func (c Code) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case Unknown:
		return "UNKNOWN"
	case NoSuchProcedure:
		return "NO_SUCH_PROCEDURE"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// EncodeProcedurePacket builds a request payload: the procedure name, a
// space, then each argument's codec encoding in declared order.
func EncodeProcedurePacket(name string, args ...any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(name)
	buf.WriteByte(' ')
	for i, a := range args {
		enc, err := codec.Encode(a)
		if err != nil {
			return nil, fmt.Errorf("packet: encode arg %d of %q: %w", i, name, err)
		}
		buf.Write(enc)
	}
	return buf.Bytes(), nil
}

// PeekName extracts the leading name token from a request payload without
// decoding anything else — the dispatcher needs the name before it knows
// which registered signature, and therefore which argument types, apply.
func PeekName(data []byte) string {
	if i := bytes.IndexByte(data, ' '); i >= 0 {
		return string(data[:i])
	}
	return string(data)
}

// DecodeArgs decodes the argument tuple that follows a request payload's
// name token, given the statically-known parameter types of the procedure
// that was looked up by name.
func DecodeArgs(data []byte, argTypes []reflect.Type) ([]reflect.Value, error) {
	i := bytes.IndexByte(data, ' ')
	var rest []byte
	if i >= 0 {
		rest = data[i+1:]
	} else if len(argTypes) > 0 {
		return nil, fmt.Errorf("packet: malformed procedure packet: missing name separator")
	}

	dec := codec.NewDecoder(rest)
	args := make([]reflect.Value, len(argTypes))
	for idx, t := range argTypes {
		v := reflect.New(t).Elem()
		if err := dec.DecodeValue(v); err != nil {
			return nil, fmt.Errorf("packet: decode arg %d: %w", idx, err)
		}
		args[idx] = v
	}
	return args, nil
}

// VoidPayload is the zero-valued scalar placeholder used as a ReturnPacket's
// payload when the invoked procedure has no declared return type — the Go
// analogue of the original C++ framework's ReturnPacket<void> conversion.
func VoidPayload() []byte {
	enc, _ := codec.Encode(0)
	return enc
}

// EncodeReturnPacket builds a response payload: the status code, a space,
// the inner payload's length, a space, then the raw inner payload bytes.
func EncodeReturnPacket(code Code, innerPayload []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d ", int(code), len(innerPayload))
	buf.Write(innerPayload)
	return buf.Bytes()
}

// DecodeReturnPacket splits a response payload into its status code and raw
// inner bytes, without interpreting the inner payload's type — the caller
// decodes that itself once it knows what type was expected.
func DecodeReturnPacket(data []byte) (Code, []byte, error) {
	dec := codec.NewDecoder(data)
	var codeVal int
	if err := dec.Decode(&codeVal); err != nil {
		return 0, nil, fmt.Errorf("packet: decode return code: %w", err)
	}
	var innerLen int
	if err := dec.Decode(&innerLen); err != nil {
		return 0, nil, fmt.Errorf("packet: decode return inner length: %w", err)
	}
	inner, err := dec.ReadRaw(innerLen)
	if err != nil {
		return 0, nil, fmt.Errorf("packet: read inner payload: %w", err)
	}
	return Code(codeVal), inner, nil
}
