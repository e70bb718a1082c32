package lifecycle

// Phase is the application lifecycle state. Transitions are linear:
// Running → Halting → Finalizing → Stopped, with Stopped terminal.
type Phase int

const (
	Running Phase = iota
	Halting
	Finalizing
	Stopped
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case Halting:
		return "halting"
	case Finalizing:
		return "finalizing"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
