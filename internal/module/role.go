// Package module implements the Module Registry and role dispatch of
// the server's sole extension point. Modules register under
// named roles; the core invokes every role in a fixed order for each
// RTSP request.
package module

// Role names one of the extension points a Module can implement.
// Request-processing roles run in exactly this order for every
// request; the lifecycle roles run outside request
// processing.
type Role int

const (
	RoleFilter Role = iota
	RoleRoute
	RoleAuthenticate
	RoleAuthorize
	RolePreprocessor
	RoleRequest
	RolePostprocessor

	// Lifecycle roles, invoked outside request processing.
	RoleRegister
	RoleInitialize
	RoleRereadPrefs
	RoleRTSPSessionClosing
	RoleShutdown
	RoleRTSPIncomingData
)

// requestRoles is the fixed per-request dispatch order.
var requestRoles = []Role{
	RoleFilter, RoleRoute, RoleAuthenticate, RoleAuthorize,
	RolePreprocessor, RoleRequest, RolePostprocessor,
}

func (r Role) String() string {
	switch r {
	case RoleFilter:
		return "Filter"
	case RoleRoute:
		return "Route"
	case RoleAuthenticate:
		return "Authenticate"
	case RoleAuthorize:
		return "Authorize"
	case RolePreprocessor:
		return "Preprocessor"
	case RoleRequest:
		return "Request"
	case RolePostprocessor:
		return "Postprocessor"
	case RoleRegister:
		return "Register"
	case RoleInitialize:
		return "Initialize"
	case RoleRereadPrefs:
		return "RereadPrefs"
	case RoleRTSPSessionClosing:
		return "RTSPSessionClosing"
	case RoleShutdown:
		return "Shutdown"
	case RoleRTSPIncomingData:
		return "RTSPIncomingData"
	default:
		return "Unknown"
	}
}

// Result is what a Module's role handler returns to the dispatcher.
type Result int

const (
	// Done means continue to the next module in this role.
	Done Result = iota
	// EventRequested suspends the owning session task for IdleMicros
	// microseconds, then resumes at the same module index.
	EventRequested
	// GlobalLockRequested re-invokes the entire current role under
	// the process-wide lock, after the dispatcher releases all other
	// locks it holds.
	GlobalLockRequested
)

// Outcome is the full per-call return value: a Result plus the fields
// only some Results use.
type Outcome struct {
	Result     Result
	IdleMicros int64 // valid when Result == EventRequested
}

// Params is the parameter block passed to every module call. Concrete
// fields are carried via the Session/Request/extra interfaces rather
// than a closed struct, since role parameter blocks are tagged variants
// keyed by role — callers type-assert Extra to the shape their role
// expects.
type Params struct {
	Role    Role
	Session Session
	Request Request
	Extra   any
}

// Session is the minimal surface a module needs from an RTSP Session;
// the concrete type lives in internal/rtspsession to avoid an import
// cycle (module must not depend on rtspsession, since rtspsession
// depends on module). Respond lets a Request/Preprocessor module write
// the actual RTSP response for the request it is handling; headers and
// body are carried as plain types rather than *rtspsession.Response so
// this interface doesn't reach back into the package that implements it.
type Session interface {
	ID() string
	SetResponseSent()
	ResponseSent() bool
	Respond(status int, reason string, headers map[string]string, body []byte) error
}

// Request is the minimal surface a module needs from a parsed RTSP
// request.
type Request interface {
	Method() string
	Path() string
	Header(name string) string
}

// Module is implemented by a pluggable handler. A Module need not
// implement every role: Registry.Dispatch skips modules not registered
// for the role being invoked.
type Module interface {
	Name() string
}

// RoleHandler is the function signature a Module registers for a given
// role.
type RoleHandler func(p *Params) (Outcome, error)
