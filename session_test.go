package tacplus

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("testkey")

// pipeSession returns a session over one end of a net.Pipe and runs serve on
// the other end.
func pipeSession(t *testing.T, cfg SessionConfig, serve func(conn net.Conn)) *Session {
	t.Helper()

	client, server := net.Pipe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		if serve != nil {
			serve(server)
		}
	}()

	t.Cleanup(func() {
		client.Close()
		server.Close()
		<-done
	})

	if cfg.Secret == nil && !cfg.Unencrypted {
		cfg.Secret = testSecret
	}

	return NewSessionWithID(client, 0x01020304, cfg)
}

func readRequest(conn net.Conn, secret []byte) (*Header, Packet, error) {
	raw := make([]byte, HeaderLength)
	if _, err := io.ReadFull(conn, raw); err != nil {
		return nil, nil, err
	}

	var h Header
	if err := h.UnmarshalBinary(raw); err != nil {
		return nil, nil, err
	}

	body := make([]byte, h.Length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, nil, err
	}

	header, p, _, err := DecodePacket(append(raw, body...), secret)
	return header, p, err
}

func writeReply(conn net.Conn, header *Header, body Packet, secret []byte) error {
	frame, err := EncodePacket(nil, header, body, secret)
	if err != nil {
		return err
	}

	_, err = conn.Write(frame)
	return err
}

// replyTo returns the header of the server packet answering req.
func replyTo(req *Header) *Header {
	return &Header{
		Version:   req.Version,
		Type:      req.Type,
		SeqNo:     req.SeqNo + 1,
		Flags:     req.Flags,
		SessionID: req.SessionID,
	}
}

// answerOnce reads one request and writes reply with the header produced by
// mutate.
func answerOnce(t *testing.T, reply Packet, mutate func(h *Header)) func(net.Conn) {
	return func(conn net.Conn) {
		req, _, err := readRequest(conn, testSecret)
		if !assert.NoError(t, err) {
			return
		}

		h := replyTo(req)
		if mutate != nil {
			mutate(h)
		}
		_ = writeReply(conn, h, reply, testSecret)
	}
}

func TestSessionState(t *testing.T) {
	assert.Equal(t, "IDLE", SessionIdle.String())
	assert.Equal(t, "AWAITING_RESPONSE", SessionAwaitingResponse.String())
	assert.Equal(t, "COMPLETE", SessionComplete.String())
	assert.Equal(t, "FAULTED", SessionFaulted.String())
	assert.Equal(t, "UNKNOWN", SessionState(99).String())
}

func TestNewSession(t *testing.T) {
	t.Run("random ids", func(t *testing.T) {
		ids := make(map[uint32]bool)
		for range 100 {
			s, err := NewSession(nil, SessionConfig{})
			require.NoError(t, err)
			assert.False(t, ids[s.ID()], "duplicate session ID generated")
			ids[s.ID()] = true
		}
	})

	t.Run("initial state", func(t *testing.T) {
		s := NewSessionWithID(nil, 42, SessionConfig{})
		assert.Equal(t, uint32(42), s.ID())
		assert.Equal(t, SessionIdle, s.State())
		assert.Equal(t, uint8(0), s.SeqNo())
		assert.NoError(t, s.Err())
		assert.False(t, s.Ended())
		assert.WithinDuration(t, time.Now(), s.Created(), time.Second)
		assert.Equal(t, uint32(DefaultMaxBodyLength), s.cfg.MaxBodyLength)
	})
}

func TestSessionAuthorize(t *testing.T) {
	t.Run("pass", func(t *testing.T) {
		reply := &AuthorResponse{Status: AuthorStatusPassAdd, Args: []Argument{Mandatory("priv-lvl", "15")}}
		s := pipeSession(t, SessionConfig{SingleConnect: true}, answerOnce(t, reply, nil))

		got, err := s.Authorize(context.Background(), &AuthorRequest{User: "alice", Args: []Argument{Mandatory("service", "shell")}})
		require.NoError(t, err)
		assert.Equal(t, reply, got)
		assert.Equal(t, SessionComplete, s.State())
		assert.Equal(t, uint8(2), s.SeqNo())
		assert.True(t, s.ServerSingleConnect())
		assert.True(t, s.Ended())
		assert.True(t, s.reusable())
	})

	t.Run("server error is not reusable", func(t *testing.T) {
		s := pipeSession(t, SessionConfig{SingleConnect: true}, answerOnce(t, NewAuthorResponse(AuthorStatusError), nil))

		got, err := s.Authorize(context.Background(), &AuthorRequest{User: "alice"})
		require.NoError(t, err)
		assert.True(t, got.IsError())
		assert.False(t, s.reusable())
	})

	t.Run("server declines single connect", func(t *testing.T) {
		s := pipeSession(t, SessionConfig{SingleConnect: true}, answerOnce(t, NewAuthorResponse(AuthorStatusPassAdd), func(h *Header) {
			h.SetSingleConnect(false)
		}))

		_, err := s.Authorize(context.Background(), &AuthorRequest{User: "alice"})
		require.NoError(t, err)
		assert.False(t, s.ServerSingleConnect())
		assert.False(t, s.reusable())
	})

	t.Run("ended session refuses new requests", func(t *testing.T) {
		s := pipeSession(t, SessionConfig{}, answerOnce(t, NewAuthorResponse(AuthorStatusFail), nil))

		_, err := s.Authorize(context.Background(), &AuthorRequest{User: "alice"})
		require.NoError(t, err)

		_, err = s.Authorize(context.Background(), &AuthorRequest{User: "alice"})
		assert.ErrorIs(t, err, ErrSessionFaulted)
	})
}

func TestSessionReplyValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SessionConfig
		mutate  func(h *Header)
		wantErr error
	}{
		{
			name:    "bad major version",
			mutate:  func(h *Header) { h.Version = 0xd0 },
			wantErr: ErrInvalidVersion,
		},
		{
			name:    "session mismatch",
			mutate:  func(h *Header) { h.SessionID++ },
			wantErr: ErrSessionMismatch,
		},
		{
			name:    "sequence number repeated",
			mutate:  func(h *Header) { h.SeqNo = 1 },
			wantErr: ErrInvalidSequence,
		},
		{
			name:    "sequence number skipped",
			mutate:  func(h *Header) { h.SeqNo = 4 },
			wantErr: ErrInvalidSequence,
		},
		{
			name:    "wrong type",
			mutate:  func(h *Header) { h.Type = PacketTypeAcct },
			wantErr: ErrInvalidType,
		},
		{
			name:    "unencrypted flag mismatch",
			mutate:  func(h *Header) { h.SetUnencrypted(true) },
			wantErr: ErrMalformedPacket,
		},
		{
			name:    "body too large",
			cfg:     SessionConfig{MaxBodyLength: 4},
			wantErr: ErrBodyTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := &AuthorResponse{Status: AuthorStatusPassAdd, ServerMsg: "ok"}
			s := pipeSession(t, tt.cfg, answerOnce(t, reply, tt.mutate))

			_, err := s.Authorize(context.Background(), &AuthorRequest{User: "alice"})
			require.ErrorIs(t, err, tt.wantErr)
			assert.False(t, IsRetryable(err))

			assert.Equal(t, SessionFaulted, s.State())
			assert.ErrorIs(t, s.Err(), tt.wantErr)

			_, err = s.Authorize(context.Background(), &AuthorRequest{User: "alice"})
			assert.ErrorIs(t, err, ErrSessionFaulted)
		})
	}
}

func TestSessionMalformedBody(t *testing.T) {
	s := pipeSession(t, SessionConfig{}, func(conn net.Conn) {
		req, _, err := readRequest(conn, testSecret)
		if !assert.NoError(t, err) {
			return
		}

		h := replyTo(req)
		h.Length = 3
		raw, _ := h.MarshalBinary()
		_, _ = conn.Write(append(raw, 0x01, 0x02, 0x03))
	})

	_, err := s.Account(context.Background(), &AcctRequest{Flags: AcctFlagStart, User: "alice"})
	assert.ErrorIs(t, err, ErrMalformedPacket)
	assert.Equal(t, SessionFaulted, s.State())
}

func TestSessionSend(t *testing.T) {
	t.Run("busy while awaiting reply", func(t *testing.T) {
		s := pipeSession(t, SessionConfig{}, func(conn net.Conn) {
			_, _, _ = readRequest(conn, testSecret)
			_, _ = io.Copy(io.Discard, conn)
		})

		require.NoError(t, s.Send(context.Background(), &AuthorRequest{User: "alice"}))
		assert.Equal(t, SessionAwaitingResponse, s.State())

		err := s.Send(context.Background(), &AuthorRequest{User: "alice"})
		assert.ErrorIs(t, err, ErrSessionBusy)
		assert.Equal(t, SessionAwaitingResponse, s.State())
	})

	t.Run("encoding error leaves session usable", func(t *testing.T) {
		s := pipeSession(t, SessionConfig{}, answerOnce(t, NewAuthorResponse(AuthorStatusPassRepl), nil))

		err := s.Send(context.Background(), &AuthorRequest{User: "alice", Args: []Argument{Mandatory("", "x")}})
		require.ErrorIs(t, err, ErrInvalidArgument)
		assert.Equal(t, SessionIdle, s.State())
		assert.Equal(t, uint8(0), s.SeqNo())

		got, err := s.Authorize(context.Background(), &AuthorRequest{User: "alice"})
		require.NoError(t, err)
		assert.True(t, got.IsPass())
	})

	t.Run("missing secret", func(t *testing.T) {
		s := NewSessionWithID(nil, 1, SessionConfig{})

		err := s.Send(context.Background(), &AcctRequest{Flags: AcctFlagStart})
		assert.ErrorIs(t, err, ErrObfuscationConfig)
		assert.Equal(t, SessionIdle, s.State())
	})

	t.Run("server packet", func(t *testing.T) {
		s := NewSessionWithID(nil, 1, SessionConfig{Secret: testSecret})
		assert.ErrorIs(t, s.Send(context.Background(), NewAcctReply(AcctStatusSuccess)), ErrInvalidType)
	})

	t.Run("continue cannot open a session", func(t *testing.T) {
		s := NewSessionWithID(nil, 1, SessionConfig{Secret: testSecret})
		assert.ErrorIs(t, s.Send(context.Background(), NewAuthenContinue("x")), ErrInvalidType)
		assert.Equal(t, SessionIdle, s.State())
	})

	t.Run("sequence overflow", func(t *testing.T) {
		s := NewSessionWithID(nil, 1, SessionConfig{Secret: testSecret})
		s.kind = PacketTypeAuthen
		s.seqNo = maxSeqNo - 1
		s.state = SessionComplete

		err := s.Send(context.Background(), NewAuthenContinue("x"))
		require.ErrorIs(t, err, ErrSequenceOverflow)
		assert.Equal(t, SessionFaulted, s.State())
	})

	t.Run("unencrypted", func(t *testing.T) {
		s := pipeSession(t, SessionConfig{Unencrypted: true}, func(conn net.Conn) {
			req, body, err := readRequest(conn, nil)
			if !assert.NoError(t, err) {
				return
			}
			assert.True(t, req.IsUnencrypted())
			assert.Equal(t, FieldText("alice"), body.(*AcctRequest).User)

			_ = writeReply(conn, replyTo(req), NewAcctReply(AcctStatusSuccess), nil)
		})

		got, err := s.Account(context.Background(), &AcctRequest{Flags: AcctFlagStop, User: "alice"})
		require.NoError(t, err)
		assert.True(t, got.IsSuccess())
	})
}

func TestSessionReceive(t *testing.T) {
	t.Run("nothing in flight", func(t *testing.T) {
		s := NewSessionWithID(nil, 1, SessionConfig{Secret: testSecret})
		_, err := s.Receive(context.Background(), &AuthorResponse{})
		assert.ErrorIs(t, err, ErrInvalidSequence)
	})

	t.Run("reply body of another type", func(t *testing.T) {
		s := pipeSession(t, SessionConfig{}, func(conn net.Conn) {
			_, _, _ = readRequest(conn, testSecret)
		})

		require.NoError(t, s.Send(context.Background(), &AuthorRequest{User: "alice"}))
		_, err := s.Receive(context.Background(), &AcctReply{})
		assert.ErrorIs(t, err, ErrInvalidType)
	})

	t.Run("connection closed", func(t *testing.T) {
		s := pipeSession(t, SessionConfig{}, func(conn net.Conn) {
			_, _, _ = readRequest(conn, testSecret)
			conn.Close()
		})

		_, err := s.Authorize(context.Background(), &AuthorRequest{User: "alice"})
		require.ErrorIs(t, err, ErrTransport)
		assert.True(t, IsRetryable(err))
		assert.Equal(t, SessionFaulted, s.State())
	})

	t.Run("timeout", func(t *testing.T) {
		s := pipeSession(t, SessionConfig{Timeout: 50 * time.Millisecond}, func(conn net.Conn) {
			_, _, _ = readRequest(conn, testSecret)
			_, _ = io.Copy(io.Discard, conn)
		})

		_, err := s.Authorize(context.Background(), &AuthorRequest{User: "alice"})
		require.ErrorIs(t, err, ErrTransport)
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	})
}

func TestSessionContext(t *testing.T) {
	t.Run("cancel while waiting", func(t *testing.T) {
		s := pipeSession(t, SessionConfig{}, func(conn net.Conn) {
			_, _, _ = readRequest(conn, testSecret)
			_, _ = io.Copy(io.Discard, conn)
		})

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(50*time.Millisecond, cancel)

		_, err := s.Authorize(ctx, &AuthorRequest{User: "alice"})
		require.ErrorIs(t, err, context.Canceled)
		assert.False(t, IsRetryable(err))
		assert.Equal(t, SessionFaulted, s.State())
	})

	t.Run("deadline", func(t *testing.T) {
		s := pipeSession(t, SessionConfig{Timeout: time.Minute}, func(conn net.Conn) {
			_, _, _ = readRequest(conn, testSecret)
			_, _ = io.Copy(io.Discard, conn)
		})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := s.Authorize(ctx, &AuthorRequest{User: "alice"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("already cancelled", func(t *testing.T) {
		s := pipeSession(t, SessionConfig{}, nil)

		ctx, cancel := context.WithCancelCause(context.Background())
		cause := errors.New("shutting down")
		cancel(cause)

		err := s.Send(ctx, &AuthorRequest{User: "alice"})
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, SessionFaulted, s.State())
	})
}

func TestSessionAuthenticate(t *testing.T) {
	t.Run("pap with password prompt", func(t *testing.T) {
		s := pipeSession(t, SessionConfig{}, func(conn net.Conn) {
			req, body, err := readRequest(conn, testSecret)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, uint8(MinorVersionOne), req.MinorVersionNumber())
			assert.Equal(t, []byte("hunter2"), body.(*AuthenStart).Data)

			assert.Equal(t, uint8(1), req.SeqNo)
			hdr := replyTo(req)
			assert.Equal(t, uint8(2), hdr.SeqNo)
			_ = writeReply(conn, hdr, &AuthenReply{Status: AuthenStatusGetPass, Flags: AuthenReplyFlagNoEcho}, testSecret)

			req, body, err = readRequest(conn, testSecret)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, uint8(3), req.SeqNo)
			assert.Equal(t, []byte("hunter2"), body.(*AuthenContinue).Data)
			assert.Equal(t, []byte("hunter2"), body.(*AuthenContinue).UserMsg)

			hdr = replyTo(req)
			assert.Equal(t, uint8(4), hdr.SeqNo)
			_ = writeReply(conn, hdr, NewAuthenReply(AuthenStatusPass), testSecret)
		})

		start := &AuthenStart{Action: AuthenActionLogin, AuthenType: AuthenTypePAP, User: "alice", Data: []byte("hunter2")}
		reply, err := s.Authenticate(context.Background(), start, papResponder("alice", "hunter2"))
		require.NoError(t, err)
		assert.True(t, reply.IsPass())
		assert.Equal(t, uint8(4), s.SeqNo())
		assert.True(t, s.Ended())
	})

	t.Run("responder error aborts", func(t *testing.T) {
		aborted := make(chan *AuthenContinue, 1)

		s := pipeSession(t, SessionConfig{}, func(conn net.Conn) {
			req, _, err := readRequest(conn, testSecret)
			if !assert.NoError(t, err) {
				return
			}
			_ = writeReply(conn, replyTo(req), &AuthenReply{Status: AuthenStatusGetUser, ServerMsg: "Username: "}, testSecret)

			_, body, err := readRequest(conn, testSecret)
			if assert.NoError(t, err) {
				aborted <- body.(*AuthenContinue)
			}
		})

		start := &AuthenStart{Action: AuthenActionLogin, AuthenType: AuthenTypeASCII}
		reply, err := s.Authenticate(context.Background(), start, func(*AuthenReply) (*AuthenContinue, error) {
			return nil, errors.New("user went away")
		})
		require.ErrorIs(t, err, ErrAuthenAborted)
		assert.Equal(t, AuthenStatusGetUser, reply.Status)
		assert.True(t, s.Ended())

		cont := <-aborted
		assert.True(t, cont.IsAbort())
		assert.Equal(t, []byte("user went away"), cont.Data)
	})

	t.Run("follow", func(t *testing.T) {
		s := pipeSession(t, SessionConfig{}, answerOnce(t, &AuthenReply{Status: AuthenStatusFollow, ServerMsg: "10.0.0.2"}, nil))

		start := &AuthenStart{Action: AuthenActionLogin, AuthenType: AuthenTypeASCII, User: "alice"}
		reply, err := s.Authenticate(context.Background(), start, nil)
		require.ErrorIs(t, err, ErrAuthenFollow)
		assert.Equal(t, AuthenStatusFollow, reply.Status)
	})

	t.Run("fail is not an error", func(t *testing.T) {
		s := pipeSession(t, SessionConfig{}, answerOnce(t, &AuthenReply{Status: AuthenStatusFail, ServerMsg: "denied"}, nil))

		start := &AuthenStart{Action: AuthenActionLogin, AuthenType: AuthenTypePAP, User: "alice", Data: []byte("bad")}
		reply, err := s.Authenticate(context.Background(), start, nil)
		require.NoError(t, err)
		assert.ErrorIs(t, reply.Err(), ErrProtocolStatus)
	})
}

func TestCHAPData(t *testing.T) {
	challenge := []byte("0123456789abcdef")
	data := CHAPData(7, challenge, "secret")

	require.Len(t, data, 1+len(challenge)+16)
	assert.Equal(t, byte(7), data[0])
	assert.Equal(t, challenge, data[1:17])
	assert.Equal(t, data, CHAPData(7, challenge, "secret"))
	assert.NotEqual(t, data, CHAPData(7, challenge, "other"))

	generated, err := newCHAPData("secret")
	require.NoError(t, err)
	assert.Len(t, generated, 1+chapChallengeLength+16)
}

// cancelOnRead cancels a context once the given number of reads completed.
type cancelOnRead struct {
	net.Conn
	reads  int
	after  int
	cancel context.CancelFunc
}

func (c *cancelOnRead) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.reads++
	if c.reads == c.after {
		c.cancel()
	}
	return n, err
}

func TestSessionCancelledAsReplyArrives(t *testing.T) {
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		answerOnce(t, NewAuthorResponse(AuthorStatusPassAdd), nil)(server)
	}()
	t.Cleanup(func() {
		client.Close()
		server.Close()
		<-done
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two reads: the header, then the body.
	conn := &cancelOnRead{Conn: client, after: 2, cancel: cancel}
	s := NewSessionWithID(conn, 0x01020304, SessionConfig{Secret: testSecret, SingleConnect: true})

	reply, err := s.Authorize(ctx, &AuthorRequest{User: "alice"})
	require.NoError(t, err)
	assert.True(t, reply.IsPass())
	assert.True(t, s.ServerSingleConnect())
	assert.False(t, s.reusable(), "connection with an expired deadline must not be kept")

	// The expired deadline is in place before Authorize returns.
	_, err = client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestSessionConcurrentReceive(t *testing.T) {
	release := make(chan struct{})

	s := pipeSession(t, SessionConfig{}, func(conn net.Conn) {
		req, _, err := readRequest(conn, testSecret)
		if !assert.NoError(t, err) {
			return
		}
		<-release
		_ = writeReply(conn, replyTo(req), NewAuthorResponse(AuthorStatusPassAdd), testSecret)
	})

	require.NoError(t, s.Send(context.Background(), &AuthorRequest{User: "alice"}))

	type result struct {
		reply *AuthorResponse
		err   error
	}
	first := make(chan result, 1)
	go func() {
		reply := &AuthorResponse{}
		_, err := s.Receive(context.Background(), reply)
		first <- result{reply, err}
	}()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.receiving
	}, time.Second, time.Millisecond)

	_, err := s.Receive(context.Background(), &AuthorResponse{})
	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.Equal(t, SessionAwaitingResponse, s.State())

	close(release)

	res := <-first
	require.NoError(t, res.err)
	assert.True(t, res.reply.IsPass())
	assert.Equal(t, SessionComplete, s.State())
	assert.Equal(t, uint8(2), s.SeqNo())
}
