package rist

// Profile selects the RIST protocol variant of a native context.
type Profile int

const (
	ProfileSimple   Profile = iota // TR-06-1, lowest complexity
	ProfileMain                    // TR-06-2, GRE tunnelling and flows
	ProfileAdvanced                // TR-06-3
)

func (p Profile) String() string {
	switch p {
	case ProfileSimple:
		return "simple"
	case ProfileMain:
		return "main"
	case ProfileAdvanced:
		return "advanced"
	default:
		return "unknown"
	}
}

// valid reports whether p is one of the known profiles.
func (p Profile) valid() bool {
	return p >= ProfileSimple && p <= ProfileAdvanced
}

// Role tells whether a native context sends or receives.
type Role int

const (
	RoleReceiver Role = iota
	RoleSender
)

func (r Role) String() string {
	switch r {
	case RoleReceiver:
		return "receiver"
	case RoleSender:
		return "sender"
	default:
		return "unknown"
	}
}

// RecoveryMode defines the retransmission buffering strategy.
type RecoveryMode int

const (
	RecoveryTime     RecoveryMode = iota // Buffer bounded by time (default)
	RecoveryDisabled                     // No retransmission
	RecoveryBytes                        // Buffer bounded by size (fixed length)
)

func (m RecoveryMode) String() string {
	switch m {
	case RecoveryTime:
		return "time"
	case RecoveryDisabled:
		return "disabled"
	case RecoveryBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// ParseRecoveryMode parses the names returned by RecoveryMode.String.
// "off" and "fixed" are accepted as aliases.
func ParseRecoveryMode(s string) (RecoveryMode, bool) {
	switch s {
	case "time", "":
		return RecoveryTime, true
	case "disabled", "off":
		return RecoveryDisabled, true
	case "bytes", "fixed":
		return RecoveryBytes, true
	default:
		return 0, false
	}
}
