package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
	require.LessOrEqual(t, id1, id2)
}

func TestValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want bool
	}{
		{"0190a1b2-0000-7000-8000-000000000001", true},
		{"{0190a1b2-0000-7000-8000-000000000001}", false},
		{"urn:uuid:0190a1b2-0000-7000-8000-000000000001", false},
		{"not-a-uuid", false},
		{"", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Valid(tt.in), tt.in)
	}
}
