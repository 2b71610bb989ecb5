package sipua

import "time"

// Registration is the independent-of-the-call-dialog registration state
// spec.md §3 names: its own Call-ID, tags, CSeq, retry counter, expires
// value, refresh deadline, branch, and auth challenge.
type Registration struct {
	State PhoneState

	CallID    string
	LocalTag  string
	RemoteTag string
	CSeq      uint32
	Branch    string

	Expires        time.Duration
	RefreshAt      time.Time
	refreshArmed   bool

	Auth AuthState
}

// NewRegistration allocates a registration's persistent Call-ID, reused for
// every refresh for the life of the process, per spec.md §4.1.
func NewRegistration(callID string) *Registration {
	return &Registration{State: StateInactive, CallID: callID}
}

// ArmRefresh schedules the next REGISTER refresh at expires-5s, per spec.md
// §4.1's registration state machine.
func (r *Registration) ArmRefresh(now time.Time, expires time.Duration) {
	r.Expires = expires
	r.RefreshAt = now.Add(expires - 5*time.Second)
	r.refreshArmed = true
}

// DisarmRefresh cancels any pending refresh deadline (e.g. on Stop).
func (r *Registration) DisarmRefresh() {
	r.refreshArmed = false
}

// RefreshDue reports whether the refresh deadline has passed.
func (r *Registration) RefreshDue(now time.Time) bool {
	return r.refreshArmed && !now.Before(r.RefreshAt)
}

// OnStart transitions INACTIVE -> REGISTERING, per spec.md §4.1.
func (r *Registration) OnStart() {
	r.State = StateRegistering
}

// OnOK handles a 200 OK to REGISTER: REGISTERING -> IDLE (arming the next
// refresh), or a no-op refresh while already IDLE.
func (r *Registration) OnOK(now time.Time, expires time.Duration) {
	wasStop := expires == 0
	if wasStop {
		r.State = StateInactive
		r.DisarmRefresh()
		return
	}
	r.State = StateIdle
	r.Auth.Retries = 0
	r.ArmRefresh(now, expires)
}

// OnChallenge handles a 401/403 response to REGISTER. retry is false once the
// retry budget (or a 403) ends registration.
func (r *Registration) OnChallenge(c Challenge, forbidden bool) (retry bool) {
	if forbidden || !r.Auth.Challenge(c) {
		r.State = StateInactive
		return false
	}
	return true
}

// OnTimeout handles a REGISTER that received no response within
// RESPONSE_TIMEOUT.
func (r *Registration) OnTimeout() {
	r.State = StateInactive
}
