package cardutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePAN(t *testing.T) {
	require.NoError(t, ValidatePAN("4111111111111111"))
	require.NoError(t, ValidatePAN("378282246310005"))

	require.ErrorContains(t, ValidatePAN(""), "required")
	require.ErrorContains(t, ValidatePAN("4111-1111"), "digits only")
	require.ErrorContains(t, ValidatePAN("411111111111"), "length")
	require.ErrorContains(t, ValidatePAN("4111111111111112"), "luhn")
}

func TestValidateCVV(t *testing.T) {
	require.NoError(t, ValidateCVV("123"))
	require.NoError(t, ValidateCVV("1234"))
	require.Error(t, ValidateCVV("12"))
	require.Error(t, ValidateCVV("12a"))
}

func TestTestPAN(t *testing.T) {
	for i := 0; i < 20; i++ {
		pan, err := TestPAN("411111", 16)
		require.NoError(t, err)
		require.Len(t, pan, 16)
		require.Equal(t, "411111", pan[:6])
		require.NoError(t, ValidatePAN(pan))
	}

	_, err := TestPAN("4111", 16)
	require.Error(t, err)
}

func TestMaskPAN(t *testing.T) {
	require.Equal(t, "411111******1111", MaskPAN("4111 1111 1111 1111"))
	require.Equal(t, "*****6789", MaskPAN("123456789"))
	require.Equal(t, "***", MaskPAN("123"))
	require.Equal(t, "", MaskPAN(""))
}

func TestLastN(t *testing.T) {
	require.Equal(t, "1111", LastN("4111111111111111", 4))
	require.Equal(t, "12", LastN("12", 4))
}
