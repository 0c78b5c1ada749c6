package dueldto

// ErrorCode tags a rejected request with the reason class the client
// should branch on.
type ErrorCode string

const (
	CodeAuthRequired    ErrorCode = "AUTH_REQUIRED"
	CodeWrongInput      ErrorCode = "WRONG_INPUT"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeSelfMatch       ErrorCode = "SELF_MATCH"
	CodeAlreadyStarted  ErrorCode = "ALREADY_STARTED"
	CodeAlreadyResolved ErrorCode = "ALREADY_RESOLVED"
	CodeNotParticipant  ErrorCode = "NOT_PARTICIPANT"
	CodeInternal        ErrorCode = "INTERNAL"
)
