package services

// SessionObserver receives lifecycle events from SessionService. The metrics
// package provides the production implementation.
type SessionObserver interface {
	SessionStarted(resumed bool)
	DuplicateDetected()
	StepSubmitted(step Step, timing TimingFlag)
	AttentionChecked(check string, passed bool)
	SessionFinished(status Status)
	Conflict(step Step)
}

type nopObserver struct{}

func (nopObserver) SessionStarted(bool)            {}
func (nopObserver) DuplicateDetected()             {}
func (nopObserver) StepSubmitted(Step, TimingFlag) {}
func (nopObserver) AttentionChecked(string, bool)  {}
func (nopObserver) SessionFinished(Status)         {}
func (nopObserver) Conflict(Step)                  {}
