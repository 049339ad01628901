package errorx

type Code int

const (
	// Common codes
	BadRequest      Code = 100001
	BadResponse     Code = 100002
	NotFound        Code = 100003
	Unauthenticated Code = 100004
	AlreadyExists   Code = 100005
	Unavailable     Code = 100006
	Timeout         Code = 100007

	// Connection codes
	ConnectionClosed Code = 200001
	NotConnected     Code = 200002

	// Timeline codes
	MalformedEvent Code = 300001
)
