package sandbox

import "time"

// Spec describes one container to create and start.
type Spec struct {
	Image      string
	Cmd        []string
	WorkingDir string
	// Binds are host:container bind mounts ("path:path:rw").
	Binds []string
	// TTY allocates a pseudo terminal and keeps stdin open; used by
	// interactive sessions.
	TTY       bool
	OpenStdin bool
	// KeepAlive disables the wall-clock deadline; interactive session
	// containers live until the client disconnects.
	KeepAlive bool
	// WallClock overrides the manager's default deadline when positive.
	WallClock time.Duration
}

// Container is a handle to a started sandbox container.
type Container struct {
	ID string
}
