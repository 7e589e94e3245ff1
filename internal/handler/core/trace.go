package core

import (
	"context"
	"net"
	"net/http/httptrace"
	"reflect"
)

// The core handler reports no httptrace events. A caller's ClientTrace
// would otherwise see the DNS and connect hooks fired by net.Dialer without
// any of the HTTP ones, so both context keys are shadowed.
var traceKeys []any

// probeContext records the type of the first key it is asked for.
type probeContext struct {
	context.Context
	seen *reflect.Type
}

func (c probeContext) Value(key any) any {
	if *c.seen == nil {
		*c.seen = reflect.TypeOf(key)
	}
	return nil
}

// keyOf returns the zero value of the context key type that lookup asks for.
func keyOf(lookup func(ctx context.Context)) any {
	var t reflect.Type
	lookup(probeContext{context.Background(), &t})
	if t == nil {
		return nil
	}
	return reflect.New(t).Elem().Interface()
}

func init() {
	for _, lookup := range []func(context.Context){
		func(ctx context.Context) { (&net.Dialer{}).DialContext(ctx, "invalid", "") },
		func(ctx context.Context) { httptrace.ContextClientTrace(ctx) },
	} {
		if k := keyOf(lookup); k != nil {
			traceKeys = append(traceKeys, k)
		}
	}
}

func shadowStandardClientTrace(ctx context.Context) context.Context {
	for _, k := range traceKeys {
		ctx = context.WithValue(ctx, k, nil)
	}
	return ctx
}
