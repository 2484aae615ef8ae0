// Package dispatch implements the procedure registry and the type-erased
// request handler built on top of it. Go has no template instantiation, so
// where the original C++ framework generated one callProxyHelper per
// registered signature at compile time, Dispatcher closes over each
// procedure's argument and return types with reflect at Register time
// instead — paying the type-erasure cost once, not per call.
package dispatch

import (
	"fmt"
	"log"
	"reflect"
	"strings"
	"time"

	"reactorpc/codec"
	"reactorpc/packet"
)

var errType = reflect.TypeOf((*error)(nil)).Elem()

type handlerFunc func(body []byte) []byte

// Dispatcher holds the name-to-procedure registry and the critical-time
// logging threshold used when invoking them.
type Dispatcher struct {
	procedures map[string]handlerFunc

	criticalTime time.Duration
	warnOnSlow   bool

	infoLog  *log.Logger
	errorLog *log.Logger
}

// New creates a Dispatcher. A negative criticalTime disables the
// slow-procedure warning entirely, matching the original's
// DEFAULT_CRITICAL_TIME opt-out.
func New(criticalTime time.Duration, infoLog, errorLog *log.Logger) *Dispatcher {
	return &Dispatcher{
		procedures:   make(map[string]handlerFunc),
		criticalTime: criticalTime,
		warnOnSlow:   criticalTime >= 0,
		infoLog:      infoLog,
		errorLog:     errorLog,
	}
}

// Register installs fn, a free function or a bound Go method value, under
// name. In Go a bound method value (e.g. obj.Add) already has its receiver
// curried into the func, so it is registered exactly like any other
// function — there is no separate free-function/member-function split the
// way C++ needs one.
//
// fn's result list must be one of: nothing, (R), (error), or (R, error).
//
// A second Register under a name already in use overwrites the first,
// last-write-wins — the same as the original framework's
// unordered_map::operator[] assignment; callers are responsible for
// avoiding collisions.
func (d *Dispatcher) Register(name string, fn any) error {
	fnVal := reflect.ValueOf(fn)
	if fnVal.Kind() != reflect.Func {
		return fmt.Errorf("dispatch: Register(%q): not a function: %T", name, fn)
	}
	if name == "" {
		return fmt.Errorf("dispatch: Register: procedure name must not be empty")
	}
	if strings.ContainsRune(name, ' ') {
		return fmt.Errorf("dispatch: Register(%q): procedure name must not contain spaces", name)
	}
	h, err := buildHandler(fnVal, fnVal.Type())
	if err != nil {
		return fmt.Errorf("dispatch: Register(%q): %w", name, err)
	}
	d.procedures[name] = h
	return nil
}

// RegisterMethod installs the method named methodName on receiver under
// name. It exists for callers that only hold a receiver and a method name at
// runtime (e.g. building a registry from a list of strings); callers that
// already have a bound method value in hand should just call Register.
func (d *Dispatcher) RegisterMethod(name string, receiver any, methodName string) error {
	m := reflect.ValueOf(receiver).MethodByName(methodName)
	if !m.IsValid() {
		return fmt.Errorf("dispatch: RegisterMethod(%q): no method %q on %T", name, methodName, receiver)
	}
	return d.Register(name, m.Interface())
}

func buildHandler(fnVal reflect.Value, fnType reflect.Type) (handlerFunc, error) {
	if fnType.IsVariadic() {
		return nil, fmt.Errorf("variadic procedures are not supported")
	}
	numIn := fnType.NumIn()
	argTypes := make([]reflect.Type, numIn)
	for i := 0; i < numIn; i++ {
		argTypes[i] = fnType.In(i)
	}

	numOut := fnType.NumOut()
	hasErr := numOut > 0 && fnType.Out(numOut-1) == errType
	var retType reflect.Type
	switch {
	case hasErr && numOut == 2:
		retType = fnType.Out(0)
	case hasErr && numOut == 1:
		retType = nil
	case !hasErr && numOut == 1:
		retType = fnType.Out(0)
	case !hasErr && numOut == 0:
		retType = nil
	default:
		return nil, fmt.Errorf("unsupported return arity %d", numOut)
	}

	return func(body []byte) []byte {
		args, err := packet.DecodeArgs(body, argTypes)
		if err != nil {
			panic(err)
		}
		results := fnVal.Call(args)
		if hasErr {
			if errVal := results[len(results)-1]; !errVal.IsNil() {
				panic(errVal.Interface().(error))
			}
		}

		var payload []byte
		if retType == nil {
			payload = packet.VoidPayload()
		} else {
			payload, err = codec.Encode(results[0].Interface())
			if err != nil {
				panic(err)
			}
		}
		return packet.EncodeReturnPacket(packet.Success, payload)
	}, nil
}

// Handle decodes the procedure name from request, looks it up, invokes it,
// and returns the encoded ReturnPacket. It never panics back to its caller:
// a malformed request, an unregistered name, a handler error, or a handler
// panic all degrade to an encoded error response instead of propagating.
func (d *Dispatcher) Handle(request []byte) []byte {
	name := packet.PeekName(request)
	h, ok := d.procedures[name]
	if !ok {
		d.infoLog.Printf("dispatch: no such procedure %q", name)
		return packet.EncodeReturnPacket(packet.NoSuchProcedure, nil)
	}

	start := time.Now()
	resp := d.invoke(name, h, request)
	if d.warnOnSlow {
		if elapsed := time.Since(start); elapsed >= d.criticalTime {
			d.infoLog.Printf("dispatch: procedure %q exceeded critical time: %s >= %s", name, elapsed, d.criticalTime)
		}
	}
	return resp
}

func (d *Dispatcher) invoke(name string, h handlerFunc, request []byte) (resp []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.errorLog.Printf("dispatch: procedure %q failed: %v", name, r)
			resp = packet.EncodeReturnPacket(packet.Unknown, nil)
		}
	}()
	return h(request)
}
