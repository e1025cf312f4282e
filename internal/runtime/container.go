package runtime

import "github.com/dop251/goja"

// State of a container registry entry.
type State string

const (
	StateUnregistered    State = "unregistered"
	StateInitializing    State = "initializing"
	StateReady           State = "ready"
	StateFailed          State = "failed"
	StateFailedPermanent State = "failed_permanent"
)

// maxInitFailures is the number of consecutive init failures after which a
// container is failed permanently: the first attempt plus one retry.
const maxInitFailures = 2

// Container is one registry entry per remote name. It persists for the
// process lifetime once created; all fields are guarded by the runtime
// mutex.
type Container struct {
	Name string

	state    State
	failures int
	initDone chan struct{}

	// exposes maps exposed paths to their module factories, populated by the
	// container's own registration call during entry evaluation.
	exposes map[string]goja.Callable

	// handles memoizes instantiated exposed modules.
	handles map[string]Handle
}

func newContainer(name string) *Container {
	return &Container{
		Name:    name,
		state:   StateUnregistered,
		handles: make(map[string]Handle),
	}
}

// Handle is the settled result of an import: the instantiated module value
// for one (container, path, export) triple.
type Handle struct {
	Container string
	Path      string
	Export    string
	Value     goja.Value
}

func handleKey(path, export string) string {
	return path + "\x00" + export
}
