package profile

// Profile is the notebook owner's standing context: who they are, what they
// are researching, and which threads matter most right now.
type Profile struct {
	Identity   IdentityProfile
	Research   ResearchProfile
	Interests  []string
	Priorities []string
}

// IdentityProfile names the notebook owner.
type IdentityProfile struct {
	Name string
	Role string // e.g. "independent researcher"
}

// ResearchProfile captures the owner's current research posture.
type ResearchProfile struct {
	Focus        string // e.g. "local-first AI tooling"
	Instructions string // standing instructions applied to every extraction
}
