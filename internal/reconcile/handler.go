package reconcile

import "context"

// Handler applies lifecycle transitions for one resource kind.
type Handler interface {
	// Create brings the named resource into existence matching should.
	Create(ctx context.Context, name string, should State) error

	// Update reconciles an existing resource's attributes toward should.
	Update(ctx context.Context, name string, should State) error

	// Delete removes the named resource.
	Delete(ctx context.Context, name string) error
}

// Getter is implemented by handlers that can report observed state.
// The dispatcher consults it only for diffs that arrive without observed state.
type Getter interface {
	Get(ctx context.Context) ([]State, error)
}

// SimpleProvider is embedded by handlers that support only some operations.
// Every operation it provides fails with an UnimplementedError.
type SimpleProvider struct{}

// Create always fails.
func (SimpleProvider) Create(context.Context, string, State) error {
	return &UnimplementedError{Op: OpCreate}
}

// Update always fails.
func (SimpleProvider) Update(context.Context, string, State) error {
	return &UnimplementedError{Op: OpUpdate}
}

// Delete always fails.
func (SimpleProvider) Delete(context.Context, string) error {
	return &UnimplementedError{Op: OpDelete}
}
