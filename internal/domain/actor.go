package domain

// ActorRole is the caller role supplied by the identity collaborator.
// The engine trusts it and only enforces transition/ownership rules.
type ActorRole string

const (
	RoleRequester ActorRole = "REQUESTER"
	RoleAgent     ActorRole = "AGENT"
	RoleAdmin     ActorRole = "ADMIN"
)

// Elevated reports whether the role may perform staff transitions.
func (r ActorRole) Elevated() bool {
	return r == RoleAgent || r == RoleAdmin
}

// Actor identifies the caller of a mutating operation.
type Actor struct {
	ID   string
	Role ActorRole
}
