package konserve_test

import (
	"testing"
	"time"

	"github.com/danielsz/konserve"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHandlers_Text(t *testing.T) {
	when := time.Date(2024, 1, 2, 3, 4, 5, 600, time.UTC)
	id := uuid.MustParse("00000000-0000-4000-8000-000000000001")
	s := konserve.NewText()

	cases := []struct {
		in   any
		want string
	}{
		{when, `#inst "2024-01-02T03:04:05.0000006Z"`},
		{id, `#uuid "00000000-0000-4000-8000-000000000001"`},
		{[]byte("hi"), `#bytes "aGk="`},
	}
	for _, c := range cases {
		out, err := konserve.Marshal(s, nil, c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, string(out))

		got, err := konserve.Unmarshal(s, out, nil)
		require.NoError(t, err)
		assert.Equal(t, c.in, got)
	}
}

func TestDefaultHandlers_Binary(t *testing.T) {
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	in := map[any]any{"at": when, "id": uuid.Nil, "raw": []byte{9}}
	for _, s := range serializers(t) {
		b, err := konserve.Marshal(s, nil, in)
		require.NoError(t, err, s.Name())
		got, err := konserve.Unmarshal(s, b, nil)
		require.NoError(t, err, s.Name())
		assert.Equal(t, in, got, s.Name())
	}
}

func TestDefaultHandlers_RejectBadPayload(t *testing.T) {
	s := konserve.NewText()
	for _, in := range []string{`#inst 5`, `#inst "yesterday"`, `#uuid "nope"`, `#bytes "%%%"`, `#uuid 1`} {
		_, err := konserve.Unmarshal(s, []byte(in), nil)
		require.ErrorIs(t, err, konserve.ErrMalformedInput, in)
	}
}

func TestMerge_Exported(t *testing.T) {
	d := konserve.DefaultHandlers()
	bridge := konserve.Handlers{Read: konserve.ReadTable{konserve.TagInst: func(string, any) (any, error) { return "mine", nil }}}
	m := konserve.Merge(konserve.BridgeOverCustom, d, konserve.Handlers{}, bridge)
	v, err := m.Read[konserve.TagInst]("", nil)
	require.NoError(t, err)
	assert.Equal(t, "mine", v)
	assert.Len(t, m.Write, 3)
}
