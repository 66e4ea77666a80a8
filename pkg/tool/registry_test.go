package tool

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCallable struct {
	name    string
	risk    RiskClass
	perm    PermissionDefault
	result  *Result
	callErr error
}

func (f *fakeCallable) Name() string                              { return f.name }
func (f *fakeCallable) Description() string                       { return "fake tool " + f.name }
func (f *fakeCallable) RiskClass() RiskClass                      { return f.risk }
func (f *fakeCallable) PermissionDefault() PermissionDefault      { return f.perm }
func (f *fakeCallable) RequiresApproval(args map[string]any) bool { return false }
func (f *fakeCallable) Schema() map[string]any                    { return nil }
func (f *fakeCallable) Call(ctx Context, args map[string]any) (*Result, error) {
	return f.result, f.callErr
}

type fakeStreaming struct {
	name   string
	chunks []string
}

func (f *fakeStreaming) Name() string                              { return f.name }
func (f *fakeStreaming) Description() string                       { return "streaming " + f.name }
func (f *fakeStreaming) RiskClass() RiskClass                      { return RiskExecute }
func (f *fakeStreaming) PermissionDefault() PermissionDefault      { return PermissionAsk }
func (f *fakeStreaming) RequiresApproval(args map[string]any) bool { return false }
func (f *fakeStreaming) Schema() map[string]any                    { return nil }


func (f *fakeStreaming) CallStreaming(ctx Context, args map[string]any) iter.Seq2[*Result, error] {
	return func(yield func(*Result, error) bool) {
		for _, c := range f.chunks {
			if !yield(&Result{Success: true, Content: c, Streaming: true}, nil) {
				return
			}
		}
		yield(&Result{Success: true, Content: "final"}, nil)
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	tl := &fakeCallable{name: "read_file", risk: RiskRead, perm: PermissionAllow}
	require.NoError(t, r.Register(tl))

	got, ok := r.Get("read_file")
	assert.True(t, ok)
	assert.Equal(t, tl, got)
}

func TestRegistry_RegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeCallable{name: "dup"}))
	err := r.Register(&fakeCallable{name: "dup"})
	assert.Error(t, err)
}

func TestRegistry_FreezeRejectsRegister(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	err := r.Register(&fakeCallable{name: "x"})
	assert.Error(t, err)
}

func TestRegistry_ListPreservesOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeCallable{name: "b"}))
	require.NoError(t, r.Register(&fakeCallable{name: "a"}))
	names := []string{}
	for _, reg := range r.List() {
		names = append(names, reg.Name())
	}
	assert.Equal(t, []string{"b", "a"}, names)
}

func TestRegistry_Execute_Callable(t *testing.T) {
	r := NewRegistry()
	want := &Result{Success: true, Content: "ok"}
	require.NoError(t, r.Register(&fakeCallable{name: "echo", result: want}))

	got, err := r.Execute(context.Background(), nil, Call{Name: "echo"}, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRegistry_Execute_Streaming(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeStreaming{name: "cmd", chunks: []string{"a", "b"}}))

	var chunks []string
	got, err := r.Execute(context.Background(), nil, Call{Name: "cmd"}, func(res *Result) {
		chunks = append(chunks, res.Content)
	})
	require.NoError(t, err)
	assert.Equal(t, "final", got.Content)
	assert.Equal(t, []string{"a", "b"}, chunks)
}

func TestRegistry_Execute_UnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), nil, Call{Name: "missing"}, nil)
	assert.Error(t, err)
}
