package processor_test

import (
	"encoding/json"
	"testing"

	"github.com/alovak/cardflow-checkout/internal/processor"
	"github.com/stretchr/testify/require"
)

func TestRawJSON(t *testing.T) {
	require.Nil(t, processor.RawJSON(nil))
	require.Nil(t, processor.RawJSON([]byte("  \n")))

	require.Equal(t, json.RawMessage(`{"respstat":"C"}`), processor.RawJSON([]byte(" {\"respstat\":\"C\"}\n")))

	raw := processor.RawJSON([]byte("<html>Bad Gateway</html>"))
	require.True(t, json.Valid(raw))
	var s string
	require.NoError(t, json.Unmarshal(raw, &s))
	require.Equal(t, "<html>Bad Gateway</html>", s)
}
