package stepflow

import "context"

// SubjectResolver checks that the domain entity an execution governs still
// exists. The engine never dereferences subjects itself; resolution failures
// only matter to integrity validation and recovery, which must refuse to
// operate on an execution whose subject is gone.
type SubjectResolver interface {
	// ResolveSubject returns an error when the subject cannot be resolved.
	ResolveSubject(ctx context.Context, subject SubjectRef) error
}

// SubjectResolverFunc adapts a function to the SubjectResolver interface.
type SubjectResolverFunc func(ctx context.Context, subject SubjectRef) error

func (f SubjectResolverFunc) ResolveSubject(ctx context.Context, subject SubjectRef) error {
	return f(ctx, subject)
}

// NullSubjectResolver treats every subject as resolvable.
type NullSubjectResolver struct{}

func NewNullSubjectResolver() *NullSubjectResolver {
	return &NullSubjectResolver{}
}

func (r *NullSubjectResolver) ResolveSubject(ctx context.Context, subject SubjectRef) error {
	return nil
}
