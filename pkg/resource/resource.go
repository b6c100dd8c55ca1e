// Package resource defines the typed records nimbus exchanges with cloud services.
// Records are built at the provider boundary from SDK responses and never carry
// raw provider shapes into the orchestration core.
package resource

import "time"

// Handle is an opaque identifier for an instance, bucket or object key.
// The authoritative state behind a handle always lives in the cloud.
type Handle string

// String returns the handle as a plain string.
func (h Handle) String() string { return string(h) }

// State is the lifecycle state of a compute instance.
type State string

const (
	StatePending      State = "pending"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
	StateShuttingDown State = "shutting-down"
	StateTerminated   State = "terminated"
	StateUnknown      State = "unknown"
)

var knownStates = map[State]bool{
	StatePending:      true,
	StateRunning:      true,
	StateStopping:     true,
	StateStopped:      true,
	StateShuttingDown: true,
	StateTerminated:   true,
}

// ParseState maps a provider state name to a State.
// Names outside the lifecycle are reported as StateUnknown.
func ParseState(name string) State {
	s := State(name)
	if knownStates[s] {
		return s
	}
	return StateUnknown
}

// Terminal reports whether no further transition can leave this state.
func (s State) Terminal() bool {
	return s == StateTerminated
}

// Instance is a compute instance as observed at one point in time.
type Instance struct {
	ID         Handle            `json:"id" yaml:"id"`
	State      State             `json:"state" yaml:"state"`
	Type       string            `json:"type" yaml:"type"`
	Name       string            `json:"name,omitempty" yaml:"name,omitempty"`
	LaunchTime time.Time         `json:"launch_time" yaml:"launch_time"`
	PrivateIP  string            `json:"private_ip,omitempty" yaml:"private_ip,omitempty"`
	PublicIP   string            `json:"public_ip,omitempty" yaml:"public_ip,omitempty"`
	Tags       map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// InstanceSpec describes an instance to create.
type InstanceSpec struct {
	ImageID          string            `json:"image_id" yaml:"image_id"`
	InstanceType     string            `json:"instance_type" yaml:"instance_type"`
	KeyName          string            `json:"key_name,omitempty" yaml:"key_name,omitempty"`
	SubnetID         string            `json:"subnet_id,omitempty" yaml:"subnet_id,omitempty"`
	SecurityGroupIDs []string          `json:"security_group_ids,omitempty" yaml:"security_group_ids,omitempty"`
	Tags             map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Container is an object storage bucket.
type Container struct {
	Name      string    `json:"name" yaml:"name"`
	Region    string    `json:"region,omitempty" yaml:"region,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Object is a single stored object.
type Object struct {
	Key          string    `json:"key" yaml:"key"`
	Size         int64     `json:"size" yaml:"size"`
	ETag         string    `json:"etag,omitempty" yaml:"etag,omitempty"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
}

// Page is one page of a cursor-based listing.
// An empty Next means the stream is exhausted.
type Page[T any] struct {
	Items []T
	Next  string
}
