package registry_test

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/danielsz/konserve/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type specialPoint struct {
	Point
	Label string
}

type labelled struct{ Name string }

func (l labelled) String() string { return l.Name }

type alias Point

func resolveTag(t *testing.T, r registry.Resolver, v any) (string, any, bool) {
	t.Helper()
	h, view, ok := r.Resolve(v)
	if !ok {
		return "", nil, false
	}
	tv, err := h(view)
	require.NoError(t, err)
	return tv.Tag, view, true
}

func TestHierarchy_Derive(t *testing.T) {
	h := registry.NewHierarchy()
	at, pt := reflect.TypeOf(alias{}), pointType
	require.NoError(t, h.Derive(at, pt))
	require.NoError(t, h.Derive(at, pt), "duplicate derive is a no-op")
	assert.Equal(t, []reflect.Type{pt}, h.Parents(at))

	assert.Error(t, h.Derive(at, at))
	assert.Error(t, h.Derive(nil, pt))

	var nilH *registry.Hierarchy
	assert.Empty(t, nilH.Parents(at))
}

func TestResolve_ExactType(t *testing.T) {
	r := registry.Resolver{Table: registry.WriteTable{pointType: writer("app/Point")}}
	tag, view, ok := resolveTag(t, r, Point{1, 2})
	require.True(t, ok)
	assert.Equal(t, "app/Point", tag)
	assert.Equal(t, Point{1, 2}, view)
}

func TestResolve_EmbeddedAncestor(t *testing.T) {
	r := registry.Resolver{Table: registry.WriteTable{pointType: writer("app/Point")}}
	tag, view, ok := resolveTag(t, r, specialPoint{Point: Point{3, 4}, Label: "x"})
	require.True(t, ok)
	assert.Equal(t, "app/Point", tag)
	assert.Equal(t, Point{3, 4}, view, "handler receives the embedded ancestor")
}

func TestResolve_ExactBeatsAncestor(t *testing.T) {
	r := registry.Resolver{Table: registry.WriteTable{
		pointType:                       writer("app/Point"),
		reflect.TypeOf(specialPoint{}): writer("app/SpecialPoint"),
	}}
	tag, _, ok := resolveTag(t, r, specialPoint{})
	require.True(t, ok)
	assert.Equal(t, "app/SpecialPoint", tag)
}

func TestResolve_DeclaredParent(t *testing.T) {
	h := registry.NewHierarchy()
	require.NoError(t, h.Derive(reflect.TypeOf(alias{}), pointType))
	r := registry.Resolver{Table: registry.WriteTable{pointType: writer("app/Point")}, Hierarchy: h}

	tag, view, ok := resolveTag(t, r, alias{5, 6})
	require.True(t, ok)
	assert.Equal(t, "app/Point", tag)
	assert.Equal(t, alias{5, 6}, view, "declared parents receive the value unchanged")
}

func TestResolve_Pointer(t *testing.T) {
	r := registry.Resolver{Table: registry.WriteTable{pointType: writer("app/Point")}}
	tag, view, ok := resolveTag(t, r, &Point{7, 8})
	require.True(t, ok)
	assert.Equal(t, "app/Point", tag)
	assert.Equal(t, Point{7, 8}, view)

	var nilPtr *Point
	_, _, ok = r.Resolve(nilPtr)
	assert.False(t, ok)
}

func TestResolve_Interface(t *testing.T) {
	stringer := reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
	r := registry.Resolver{Table: registry.WriteTable{stringer: writer("stringer")}}
	tag, _, ok := resolveTag(t, r, labelled{"n"})
	require.True(t, ok)
	assert.Equal(t, "stringer", tag)
}

func TestResolve_NoHandler(t *testing.T) {
	r := registry.Resolver{Table: registry.WriteTable{pointType: writer("app/Point")}}
	_, _, ok := r.Resolve(labelled{})
	assert.False(t, ok)
	_, _, ok = registry.Resolver{}.Resolve(Point{})
	assert.False(t, ok)
	_, _, ok = r.Resolve(nil)
	assert.False(t, ok)
}
