package requestctx

import (
	"context"
	"sort"
	"sync"
)

const maxAnnotations = 16

// Annotations collects identifiers a handler resolves while serving a request, such as
// the order or ticket it touched, so the access log line can report them.
type Annotations struct {
	mu     sync.Mutex
	fields map[string]string
}

// Field is one recorded annotation.
type Field struct {
	Key   string
	Value string
}

// WithAnnotations installs an empty annotation set on ctx and returns it.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	if ctx == nil {
		ctx = context.Background()
	}
	a := &Annotations{fields: make(map[string]string)}
	return context.WithValue(ctx, annotationsKey{}, a), a
}

// Annotate records key=value on the request. It is a no-op when no annotation set is
// installed, when key or value is empty, or once the set is full.
func Annotate(ctx context.Context, key, value string) {
	if ctx == nil || key == "" || value == "" {
		return
	}
	a, ok := ctx.Value(annotationsKey{}).(*Annotations)
	if !ok || a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.fields[key]; !exists && len(a.fields) >= maxAnnotations {
		return
	}
	a.fields[key] = value
}

// Fields returns the recorded annotations sorted by key.
func (a *Annotations) Fields() []Field {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Field, 0, len(a.fields))
	for k, v := range a.fields {
		out = append(out, Field{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
