package handler

type Kind int

const (
	KindDeviceUnavailable Kind = iota + 1
	KindModelLoad
	KindInference
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindModelLoad:
		return "model_load"
	case KindInference:
		return "inference"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error tags a generation failure with the stage it came from. The message
// is the cause's message, unchanged.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}
