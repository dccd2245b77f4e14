package auth

// Known OAuth scopes.
const (
	// ScopeConductsWrite allows opening new conducts.
	ScopeConductsWrite = "conducts:write"
)
