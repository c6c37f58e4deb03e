package tacplus

import "context"

// Account sends an accounting REQUEST and reads the REPLY. Any defined status
// is returned with a nil error; use reply.Err() to turn a rejection into an
// error.
func (s *Session) Account(ctx context.Context, req *AcctRequest) (*AcctReply, error) {
	reply := &AcctReply{}
	if _, err := s.Exchange(ctx, req, reply); err != nil {
		return nil, err
	}

	s.end(reply.IsError())

	return reply, nil
}
