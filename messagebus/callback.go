package messagebus

import (
	"reflect"
)

// Callback is the handler of a listener. It is one of [Func], [Param] or
// [Method]. Two callbacks are the same listener handler if they are the same
// variant, with the same function, and (for Method) the same receiver.
//
// Functions are identified by code pointer, so two closures created from the
// same function literal are indistinguishable. The same applies to method
// values: Func(a.OnEvent) and Func(b.OnEvent) share a code pointer, so
// listening with the second is a no-op, and ignoring either removes both.
// Use Method(a, (*T).OnEvent) to register a handler once per receiver.
type Callback interface {
	call(evt Event)
	key() callbackKey
}

type callbackKind uint8

const (
	kindFunc callbackKind = iota + 1
	kindParam
	kindMethod
)

type callbackKey struct {
	recv any
	code uintptr
	kind callbackKind
}

type (
	funcCallback struct {
		fn   func(Event)
		code uintptr
	}

	paramCallback struct {
		fn   func(Event, any)
		arg  any
		code uintptr
	}

	methodCallback[T any] struct {
		recv *T
		fn   func(*T, Event)
		code uintptr
	}
)

// Func returns a callback for a plain function. It returns nil if fn is nil.
// Method values are not distinguished by receiver, see [Callback].
func Func(fn func(Event)) Callback {
	if fn == nil {
		return nil
	}
	return &funcCallback{fn: fn, code: codePointer(fn)}
}

// Param returns a callback calling fn with arg. The argument is not part of
// the callback's identity: Ignore removes the handler whatever it was
// registered with. It returns nil if fn is nil.
func Param(fn func(Event, any), arg any) Callback {
	if fn == nil {
		return nil
	}
	return &paramCallback{fn: fn, arg: arg, code: codePointer(fn)}
}

// Method returns a callback for a method of recv, typically given as a
// method expression, e.g. Method(x, (*T).OnEvent). It returns nil if recv or
// fn are nil.
func Method[T any](recv *T, fn func(*T, Event)) Callback {
	if recv == nil || fn == nil {
		return nil
	}
	return &methodCallback[T]{recv: recv, fn: fn, code: codePointer(fn)}
}

func (c *funcCallback) call(evt Event) { c.fn(evt) }

func (c *funcCallback) key() callbackKey {
	return callbackKey{code: c.code, kind: kindFunc}
}

func (c *paramCallback) call(evt Event) { c.fn(evt, c.arg) }

func (c *paramCallback) key() callbackKey {
	return callbackKey{code: c.code, kind: kindParam}
}

func (c *methodCallback[T]) call(evt Event) { c.fn(c.recv, evt) }

func (c *methodCallback[T]) key() callbackKey {
	return callbackKey{recv: c.recv, code: c.code, kind: kindMethod}
}

func codePointer(fn any) uintptr {
	return reflect.ValueOf(fn).Pointer()
}
