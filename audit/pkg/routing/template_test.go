package routing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deletionTemplate = "Entity with id <$.detail.entity-id> has been deleted by <$.detail.author>"

func TestTemplate_Render(t *testing.T) {
	tpl, err := CompileTemplate(deletionTemplate)
	require.NoError(t, err)
	assert.Equal(t, []string{"detail.entity-id", "detail.author"}, tpl.Fields())
	assert.Equal(t, deletionTemplate, tpl.String())

	ev := mustParse(t, `{"id":"D1","detail":{"entity-id":"U-42","author":"ops@example.com"}}`)
	text, err := tpl.Render(ev.Fields())
	require.NoError(t, err)
	assert.Equal(t, "Entity with id U-42 has been deleted by ops@example.com", text)
}

func TestTemplate_MissingFieldFailsLoudly(t *testing.T) {
	tpl, err := CompileTemplate(deletionTemplate)
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"absent":     `{"id":"D1","detail":{"entity-id":"U-42"}}`,
		"null":       `{"id":"D1","detail":{"entity-id":"U-42","author":null}}`,
		"non-scalar": `{"id":"D1","detail":{"entity-id":"U-42","author":{"name":"x"}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			text, err := tpl.Render(mustParse(t, raw).Fields())
			assert.Empty(t, text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingField))

			var fe *FormatError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, "detail.author", fe.Path)
		})
	}
}

func TestCompileTemplate(t *testing.T) {
	tests := []struct {
		text    string
		wantErr bool
	}{
		{"plain text", false},
		{"<$.id>", false},
		{"a <b> c", false},
		{"<$.>", true},
		{"<$.detail.>", true},
		{"<$..x>", true},
	}
	for _, tt := range tests {
		_, err := CompileTemplate(tt.text)
		if tt.wantErr {
			assert.True(t, errors.Is(err, ErrConfiguration), tt.text)
		} else {
			assert.NoError(t, err, tt.text)
		}
	}
}

func TestTemplate_LiteralTextOnly(t *testing.T) {
	tpl, err := CompileTemplate("a <b> c")
	require.NoError(t, err)
	text, err := tpl.Render(nil)
	require.NoError(t, err)
	assert.Equal(t, "a <b> c", text)
}
