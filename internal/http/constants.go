package http

// Common JSON keys
const (
	JSONKeyError = "error"
)

const ctxKeyGames = "nfp.games"
