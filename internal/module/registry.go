package module

import (
	"sort"
	"sync"

	"github.com/gtfodev/rtspcore/internal/corelog"
)

// registration is one module's handler for one role, kept in
// registration order — dispatch order within a role must equal
// registration order.
type registration struct {
	mod     Module
	handler RoleHandler
}

// Registry is the frozen-after-startup role table: role -> ordered
// module handlers. It is rebuilt wholesale under the prefs lock on
// reload.
type Registry struct {
	log *corelog.Logger

	mu      sync.RWMutex
	table   map[Role][]registration
	methods map[string]bool // methods claimed by any module's Preprocessor/Request registration, for OPTIONS Public:
	global  sync.Mutex      // process-wide lock for GlobalLockRequested
}

// New creates an empty Registry.
func New(log *corelog.Logger) *Registry {
	if log == nil {
		log = corelog.Default()
	}
	return &Registry{
		log:   log,
		table: make(map[Role][]registration),
		// OPTIONS is always core-handled rather than claimed by any
		// module, but still belongs in the Public: header every
		// OPTIONS response advertises.
		methods: map[string]bool{"OPTIONS": true},
	}
}

// Register adds mod's handler for role at the end of that role's
// dispatch order.
func (r *Registry) Register(role Role, mod Module, handler RoleHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[role] = append(r.table[role], registration{mod: mod, handler: handler})
}

// ClaimMethod records that some module handles method, contributing it
// to the OPTIONS Public: header.
func (r *Registry) ClaimMethod(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[method] = true
}

// PublicMethods returns the deduplicated, sorted list of methods
// claimed by registered modules, built at init
func (r *Registry) PublicMethods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.methods))
	for m := range r.methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Rebuild atomically replaces the entire role table: the table is
// frozen after startup, or fully rebuilt this way under the prefs lock
// on reload.
func (r *Registry) Rebuild(fn func(r *Registry)) {
	r.mu.Lock()
	r.table = make(map[Role][]registration)
	r.methods = map[string]bool{"OPTIONS": true}
	r.mu.Unlock()
	fn(r)
}

func (r *Registry) handlersFor(role Role) []registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]registration, len(r.table[role]))
	copy(out, r.table[role])
	return out
}

// DispatchState is the per-request role-dispatch cursor kept on the
// RTSP Session: current module index plus per-module flags. It is
// resumable: re-entering Dispatch with the
// same cursor must not re-execute a module whose side effects (a sent
// response) already happened.
type DispatchState struct {
	Role         Role
	ModuleIndex  int
	UnderGlobal  bool
}

// DispatchStep is returned by Dispatch to tell the RTSP session state
// machine what to do next.
type DispatchStep struct {
	Done       bool  // the role finished; state machine may advance
	Suspend    bool  // caller must yield and resume at the same cursor
	IdleMicros int64 // valid when Suspend is true and caused by EventRequested
}

// Dispatch runs role's registered handlers in order starting at
// state.ModuleIndex, honoring the response-sent flag (postprocessors
// run regardless) and the per-call Result contract. It
// mutates state in place so the caller can persist the cursor across a
// suspend/resume boundary.
func (r *Registry) Dispatch(state *DispatchState, p *Params) (DispatchStep, error) {
	regs := r.handlersFor(state.Role)

	for state.ModuleIndex < len(regs) {
		reg := regs[state.ModuleIndex]

		if p.Session.ResponseSent() && state.Role != RolePostprocessor {
			// A response was already sent this role; later modules
			// (other than postprocessors) must not emit another one,
			// so they are skipped without being invoked.
			state.ModuleIndex++
			continue
		}

		r.log.Debugc(corelog.CategoryModule, "dispatching module",
			"role", state.Role.String(), "module", reg.mod.Name(), "index", state.ModuleIndex)

		if state.UnderGlobal {
			r.global.Lock()
		}
		outcome, err := reg.handler(p)
		if state.UnderGlobal {
			r.global.Unlock()
			state.UnderGlobal = false
		}
		if err != nil {
			return DispatchStep{}, err
		}

		switch outcome.Result {
		case Done:
			state.ModuleIndex++
		case EventRequested:
			return DispatchStep{Suspend: true, IdleMicros: outcome.IdleMicros}, nil
		case GlobalLockRequested:
			// Re-invoke the entire current module index under the
			// global lock. The dispatcher must have released all
			// other per-session locks before taking it;
			// the RTSP session state machine guarantees that by only
			// calling Dispatch while holding its own mutex, which it
			// releases before suspending here.
			state.UnderGlobal = true
			return DispatchStep{Suspend: true}, nil
		}
	}

	return DispatchStep{Done: true}, nil
}

// ResumeUnderGlobalLock is called by the RTSP session state machine
// immediately after a GlobalLockRequested suspension, once it has
// released its other locks, to re-enter Dispatch with UnderGlobal set.
func (r *Registry) ResumeUnderGlobalLock(state *DispatchState) {
	state.UnderGlobal = true
}
