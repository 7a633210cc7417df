package templates

import (
	"bytes"
	"html/template"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0ms"},
		{250 * time.Millisecond, "250ms"},
		{1500*time.Millisecond + 300*time.Microsecond, "1.5s"},
		{2 * time.Minute, "2m0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}

func TestTemplateFuncs(t *testing.T) {
	tmpl, err := template.New("t").Funcs(GetTemplateFunc()).Parse(
		`{{getStatusClass .S}} {{getStatusText .S}} {{formatPercent .P}} {{getOverallStatus 1 0 2}} {{getOverallStatus 1 1 0}} {{lower "UNSTABLE"}}`)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tmpl.Execute(&buf, map[string]any{"S": types.StatusFailed, "P": 87.5}))
	assert.Equal(t, "status-fail fail 87.5% passed failed unstable", buf.String())
}
