package onebot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDMPolicy(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DMPolicyOpen, ParseDMPolicy(""))
	assert.Equal(t, DMPolicyOpen, ParseDMPolicy("OPEN"))
	assert.Equal(t, DMPolicyAllowlist, ParseDMPolicy(" allowlist "))
	assert.Equal(t, DMPolicyPairing, ParseDMPolicy("pairing"))
	assert.Equal(t, DMPolicyDisabled, ParseDMPolicy("disabled"))
	assert.Equal(t, DMPolicyDisabled, ParseDMPolicy("whatever"))
}

func TestNormalizeSender(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "123", NormalizeSender("qq:123"))
	assert.Equal(t, "123", NormalizeSender("QQ:123"))
	assert.Equal(t, "123", NormalizeSender("user: 123"))
	assert.Equal(t, "123", NormalizeSender(" 123 "))
}

func TestAllowed(t *testing.T) {
	t.Parallel()

	assert.True(t, Allowed("qq:123", []string{"123"}))
	assert.False(t, Allowed("456", []string{"123"}))
	assert.True(t, Allowed("456", []string{"123"}, []string{"user:456"}))
	assert.False(t, Allowed("", []string{""}))
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		policy  DMPolicy
		allowed bool
		want    Decision
	}{
		{DMPolicyOpen, false, DecisionAllow},
		{DMPolicyOpen, true, DecisionAllow},
		{DMPolicyAllowlist, true, DecisionAllow},
		{DMPolicyAllowlist, false, DecisionDrop},
		{DMPolicyPairing, true, DecisionAllow},
		{DMPolicyPairing, false, DecisionPair},
		{DMPolicyDisabled, true, DecisionDrop},
		{DMPolicyDisabled, false, DecisionDrop},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Evaluate(tt.policy, tt.allowed), "%s allowed=%v", tt.policy, tt.allowed)
	}
}

func TestFormatPairingReply(t *testing.T) {
	t.Parallel()

	reply := FormatPairingReply("42", "ABCD2345")
	assert.Contains(t, reply, "42")
	assert.Contains(t, reply, "onebot pairing approve ABCD2345")
}
