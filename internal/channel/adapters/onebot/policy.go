package onebot

import (
	"fmt"
	"strings"
)

// DMPolicy governs how direct messages from unknown senders are handled.
type DMPolicy string

const (
	DMPolicyOpen      DMPolicy = "open"
	DMPolicyAllowlist DMPolicy = "allowlist"
	DMPolicyPairing   DMPolicy = "pairing"
	DMPolicyDisabled  DMPolicy = "disabled"
)

// ParseDMPolicy maps a config value to a policy. Empty means open; an
// unrecognized value is treated as disabled.
func ParseDMPolicy(raw string) DMPolicy {
	switch DMPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return DMPolicyOpen
	case DMPolicyOpen:
		return DMPolicyOpen
	case DMPolicyAllowlist:
		return DMPolicyAllowlist
	case DMPolicyPairing:
		return DMPolicyPairing
	default:
		return DMPolicyDisabled
	}
}

// Decision is the outcome of evaluating a policy for one sender.
type Decision int

const (
	DecisionDrop Decision = iota
	DecisionAllow
	DecisionPair
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionPair:
		return "pair"
	default:
		return "drop"
	}
}

// NormalizeSender strips a leading qq: or user: prefix.
func NormalizeSender(id string) string {
	id = strings.TrimSpace(id)
	lower := strings.ToLower(id)
	for _, prefix := range []string{"qq:", "user:"} {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(id[len(prefix):])
		}
	}
	return id
}

// Allowed reports whether sender appears in any of the lists after normalization.
func Allowed(sender string, lists ...[]string) bool {
	sender = NormalizeSender(sender)
	if sender == "" {
		return false
	}
	for _, list := range lists {
		for _, entry := range list {
			if NormalizeSender(entry) == sender {
				return true
			}
		}
	}
	return false
}

// Evaluate decides what to do with a message. It depends only on the policy
// and whether the sender is allow-listed.
func Evaluate(policy DMPolicy, allowListed bool) Decision {
	switch policy {
	case DMPolicyOpen:
		return DecisionAllow
	case DMPolicyAllowlist:
		if allowListed {
			return DecisionAllow
		}
		return DecisionDrop
	case DMPolicyPairing:
		if allowListed {
			return DecisionAllow
		}
		return DecisionPair
	default:
		return DecisionDrop
	}
}

// FormatPairingReply is the one-time message sent to an unpaired sender.
func FormatPairingReply(senderID, code string) string {
	return fmt.Sprintf(
		"Your QQ id %s is not paired with this bot yet.\nPairing code: %s\nAsk the owner to run: onebot pairing approve %s",
		senderID, code, code,
	)
}
