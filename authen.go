package tacplus

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PromptHandler answers a GETDATA, GETUSER or GETPASS reply during ASCII
// authentication. An error aborts the exchange.
type PromptHandler func(prompt string, noEcho bool) (string, error)

// Responder builds the CONTINUE answering a reply that asks for more data.
// An error aborts the exchange.
type Responder func(reply *AuthenReply) (*AuthenContinue, error)

// Authenticate drives an authentication session: it sends start, answers
// every reply asking for input with respond, and returns the terminal reply.
//
// PASS, FAIL and ERROR replies are returned with a nil error; use
// reply.Err() to turn a failure into an error. FOLLOW and RESTART are
// returned with ErrAuthenFollow and ErrAuthenRestart. When respond fails the
// session sends an abort and returns an error wrapping ErrAuthenAborted.
func (s *Session) Authenticate(ctx context.Context, start *AuthenStart, respond Responder) (*AuthenReply, error) {
	reply := &AuthenReply{}
	if _, err := s.Exchange(ctx, start, reply); err != nil {
		return nil, err
	}

	for reply.NeedsInput() {
		var cont *AuthenContinue
		err := errNoResponder
		if respond != nil {
			cont, err = respond(reply)
		}

		if err != nil {
			abortErr := s.Abort(ctx, err.Error())
			return reply, errors.Join(fmt.Errorf("%w: %w", ErrAuthenAborted, err), abortErr)
		}

		reply = &AuthenReply{}
		if _, err := s.Exchange(ctx, cont, reply); err != nil {
			return nil, err
		}
	}

	s.end(reply.IsError())

	switch reply.Status {
	case AuthenStatusFollow:
		return reply, fmt.Errorf("%w: %s", ErrAuthenFollow, reply.ServerMsg)
	case AuthenStatusRestart:
		return reply, ErrAuthenRestart
	}

	return reply, nil
}

var errNoResponder = errors.New("server asked for input and no responder is set")

// papResponder answers the prompts a server may still send after a PAP START.
func papResponder(user FieldText, password string) Responder {
	return func(reply *AuthenReply) (*AuthenContinue, error) {
		switch reply.Status {
		case AuthenStatusGetUser:
			return NewAuthenContinue(string(user)), nil
		case AuthenStatusGetPass:
			// data carries the answer; user_msg is filled for servers that read it there.
			return &AuthenContinue{UserMsg: []byte(password), Data: []byte(password)}, nil
		default:
			return nil, fmt.Errorf("unexpected %s reply to PAP", reply.Status)
		}
	}
}

// promptResponder adapts a PromptHandler to a Responder.
func promptResponder(handler PromptHandler) Responder {
	if handler == nil {
		return nil
	}

	return func(reply *AuthenReply) (*AuthenContinue, error) {
		answer, err := handler(string(reply.ServerMsg), reply.NoEcho())
		if err != nil {
			return nil, err
		}
		return NewAuthenContinue(answer), nil
	}
}

// chapChallengeLength is the length of the challenge generated for CHAP.
const chapChallengeLength = 16

// CHAPData builds the data field of a CHAP START: the PPP id, the challenge
// and MD5(id, password, challenge) as described in RFC8907 Section 5.4.2.3.
func CHAPData(pppID uint8, challenge []byte, password string) []byte {
	h := md5.New()
	h.Write([]byte{pppID})
	h.Write([]byte(password))
	h.Write(challenge)

	data := make([]byte, 0, 1+len(challenge)+md5.Size)
	data = append(data, pppID)
	data = append(data, challenge...)
	return h.Sum(data)
}

// newCHAPData generates a random PPP id and a UUID challenge.
func newCHAPData(password string) ([]byte, error) {
	var id [1]byte
	if _, err := rand.Read(id[:]); err != nil {
		return nil, fmt.Errorf("failed to generate CHAP id: %w", err)
	}

	challenge, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate CHAP challenge: %w", err)
	}

	return CHAPData(id[0], challenge[:], password), nil
}
