package auth

// Known OAuth scopes used by the board service.
const (
	ScopeBoardRead  = "board:read"
	ScopeBoardWrite = "board:write"
)
