package debug

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		format    Format
		want      Tap
		assertion assert.ErrorAssertionFunc
	}{
		{"ok default", "", &textTap{}, assert.NoError},
		{"ok text", FormatText, &textTap{}, assert.NoError},
		{"ok bin", FormatBinary, &binTap{}, assert.NoError},
		{"ok upper", "BIN", &binTap{}, assert.NoError},
		{"ok pcap", FormatPcap, &streamTap{}, assert.NoError},
		{"ok pcapng", FormatPcapng, &streamTap{}, assert.NoError},
		{"fail", "json", nil, assert.Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			got, flush, err := New(tt.format, &buf)
			tt.assertion(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				assert.Nil(t, flush)
				return
			}
			assert.IsType(t, tt.want, got)
			require.NotNil(t, flush)
			assert.NoError(t, flush())
		})
	}
}
