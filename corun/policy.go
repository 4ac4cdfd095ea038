package corun

// Policy selects how a child job's failure propagates through its parent.
type Policy int

const (
	// FailFast treats any child failure as a failure of the parent:
	// siblings are cancelled and the parent fails with the child's cause.
	FailFast Policy = iota
	// Supervisor isolates child failures: siblings and the parent are left
	// alone, and the failure is reported only to whoever joined that child
	// (or to the scope's failure sink if nobody did).
	Supervisor
)

func (p Policy) String() string {
	switch p {
	case FailFast:
		return "failfast"
	case Supervisor:
		return "supervisor"
	}
	return "unknown"
}
