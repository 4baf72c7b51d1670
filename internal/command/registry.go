package command

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/satlink/internal/protocol/frame"
)

// Registry stores command descriptors by frame id. It accepts
// registrations until Seal; after that it is read-only.
type Registry struct {
	mu     sync.RWMutex
	items  map[int]Descriptor
	sealed bool
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[int]Descriptor)}
}

// ValidateDescriptor checks the fields dispatch relies on.
func ValidateDescriptor(d Descriptor) error {
	if d.ID < 0 {
		return fmt.Errorf("%w: id %d is negative", ErrInvalidDescriptor, d.ID)
	}
	if d.Handler == nil {
		return fmt.Errorf("%w: id %d has no handler", ErrInvalidDescriptor, d.ID)
	}
	if d.Policy != Hold && d.Policy != Release {
		return fmt.Errorf("%w: id %d has %s", ErrInvalidDescriptor, d.ID, d.Policy)
	}
	for i, tag := range d.ArgTypes {
		if _, ok := frame.ParseTag(string(tag)); !ok {
			return fmt.Errorf("%w: id %d arg %d has unknown type %q", ErrInvalidDescriptor, d.ID, i, tag)
		}
	}
	return nil
}

// Register adds a descriptor to the registry.
func (r *Registry) Register(d Descriptor) error {
	if err := ValidateDescriptor(d); err != nil {
		return err
	}
	if strings.TrimSpace(d.Name) == "" {
		d.Name = fmt.Sprintf("cmd.%d", d.ID)
	}
	d.ArgTypes = append([]frame.Tag(nil), d.ArgTypes...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, ok := r.items[d.ID]; ok {
		return fmt.Errorf("%w: %d", ErrCommandExists, d.ID)
	}
	r.items[d.ID] = d
	return nil
}

// Seal stops further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Resolve returns a descriptor by id.
func (r *Registry) Resolve(id int) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.items[id]
	return d, ok
}

// List returns descriptors ordered by id.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Descriptor, 0, len(r.items))
	for _, d := range r.items {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
