package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicyStatus(t *testing.T) {
	for _, s := range []string{"draft", "active", "archived"} {
		got, err := ParsePolicyStatus(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(got))
	}
	_, err := ParsePolicyStatus("published")
	assert.Error(t, err)
}

func TestParsePolicyType(t *testing.T) {
	for _, s := range []string{"rego", "cedar"} {
		got, err := ParsePolicyType(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(got))
	}
	_, err := ParsePolicyType("opa")
	assert.Error(t, err)
}

func TestParseValidationStatus(t *testing.T) {
	for _, s := range []string{"pending", "valid", "invalid"} {
		got, err := ParseValidationStatus(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(got))
	}
	_, err := ParseValidationStatus("ok")
	assert.Error(t, err)
}
