package tacplus

import "context"

// Authorize sends an authorization REQUEST and reads the RESPONSE. Any
// defined status is returned with a nil error; use reply.Err() to turn a
// denial into an error.
func (s *Session) Authorize(ctx context.Context, req *AuthorRequest) (*AuthorResponse, error) {
	reply := &AuthorResponse{}
	if _, err := s.Exchange(ctx, req, reply); err != nil {
		return nil, err
	}

	s.end(reply.IsError())

	return reply, nil
}

// AuthorizeResult is the outcome of an authorization call.
type AuthorizeResult struct {
	// Reply is the server's response as received.
	Reply *AuthorResponse

	// Args is the request's argument list merged with the response's.
	Args []Argument
}

// Allowed reports whether the request was authorized.
func (r *AuthorizeResult) Allowed() bool {
	return r.Reply != nil && r.Reply.IsPass()
}

// Err returns a *StatusError unless the request was authorized.
func (r *AuthorizeResult) Err() error {
	return r.Reply.Err()
}

// ResolveArgs merges the request's arguments with the response's according
// to the response status. PASS_ADD applies MergeArguments, PASS_REPL applies
// ReplaceArguments. Denied requests keep the request's arguments.
func (p *AuthorResponse) ResolveArgs(request []Argument) []Argument {
	switch p.Status {
	case AuthorStatusPassAdd:
		return MergeArguments(request, p.Args)
	case AuthorStatusPassRepl:
		return ReplaceArguments(request, p.Args)
	default:
		out := make([]Argument, len(request))
		copy(out, request)
		return out
	}
}
