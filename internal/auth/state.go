package auth

import "github.com/illarion/vaultguard/internal/session"

type Status int

const (
	// Resolving is shown while startup validation runs. It is never final.
	Resolving Status = iota
	Unauthenticated
	Authenticated
)

func (s Status) String() string {
	switch s {
	case Resolving:
		return "resolving"
	case Unauthenticated:
		return "locked"
	case Authenticated:
		return "unlocked"
	default:
		return "unknown"
	}
}

// LockReason records why the orchestrator last became Unauthenticated.
type LockReason int

const (
	ReasonNone LockReason = iota
	ReasonLogout
	ReasonAutoLock
	ReasonSessionInvalid
	ReasonSwitchVault
)

func (r LockReason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonLogout:
		return "logged out"
	case ReasonAutoLock:
		return "auto-locked"
	case ReasonSessionInvalid:
		return "session expired"
	case ReasonSwitchVault:
		return "vault switched"
	default:
		return "unknown"
	}
}

// State is the authentication state shown to the user. Credential is set
// exactly when Status is Authenticated.
type State struct {
	Status     Status
	Credential *session.Credential
	VaultPath  string
	Reason     LockReason
}

func (s State) clone() State {
	if s.Credential != nil {
		c := *s.Credential
		s.Credential = &c
	}
	return s
}

func (s State) token() string {
	if s.Credential == nil {
		return ""
	}
	return s.Credential.Token
}

// Step tells the UI what to ask the user for next.
type Step int

const (
	StepChooseVault Step = iota
	StepEnterPassword
	StepUnlocked
)

func (s Step) String() string {
	switch s {
	case StepChooseVault:
		return "choose-vault"
	case StepEnterPassword:
		return "enter-password"
	case StepUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}
