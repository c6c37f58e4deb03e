package tacplus

import "fmt"

// Request carries the per-call fields shared by every AAA operation.
type Request struct {
	// User is the user being authenticated, authorized or accounted.
	User string

	// Port names the client port the user is connected to, e.g. "tty10".
	Port string

	// RemoteAddr is the location the user connects from.
	RemoteAddr string

	// PrivLevel is the privilege level requested or held.
	PrivLevel uint8

	// Service is the service the request is made for.
	Service AuthenService

	// AuthenMethod tells authorization and accounting servers how the user
	// was authenticated.
	AuthenMethod AuthenMethod

	// AuthenType tells authorization and accounting servers which
	// authentication type was used.
	AuthenType AuthenType

	// Args are the authorization or accounting arguments.
	Args []Argument
}

// requestFields is the validated text of a Request.
type requestFields struct {
	user, port, remoteAddr FieldText
}

func (r *Request) fields() (requestFields, error) {
	var (
		f   requestFields
		err error
	)

	if f.user, err = NewFieldText(r.User); err != nil {
		return f, fmt.Errorf("user: %w", err)
	}
	if f.port, err = NewFieldText(r.Port); err != nil {
		return f, fmt.Errorf("port: %w", err)
	}
	if f.remoteAddr, err = NewFieldText(r.RemoteAddr); err != nil {
		return f, fmt.Errorf("remote address: %w", err)
	}

	return f, nil
}

func (r *Request) authenStart(authenType AuthenType, data []byte) (*AuthenStart, error) {
	f, err := r.fields()
	if err != nil {
		return nil, err
	}

	return &AuthenStart{
		Action:     AuthenActionLogin,
		PrivLevel:  r.PrivLevel,
		AuthenType: authenType,
		Service:    r.Service,
		User:       f.user,
		Port:       f.port,
		RemoteAddr: f.remoteAddr,
		Data:       data,
	}, nil
}

func (r *Request) authorRequest() (*AuthorRequest, error) {
	f, err := r.fields()
	if err != nil {
		return nil, err
	}

	if err := validateArgs(r.Args); err != nil {
		return nil, err
	}

	return &AuthorRequest{
		AuthenMethod: r.AuthenMethod,
		PrivLevel:    r.PrivLevel,
		AuthenType:   r.AuthenType,
		Service:      r.Service,
		User:         f.user,
		Port:         f.port,
		RemoteAddr:   f.remoteAddr,
		Args:         append([]Argument(nil), r.Args...),
	}, nil
}

func (r *Request) acctRequest(flags uint8, extra []Argument) (*AcctRequest, error) {
	f, err := r.fields()
	if err != nil {
		return nil, err
	}

	args := make([]Argument, 0, len(r.Args)+len(extra))
	args = append(args, r.Args...)
	args = append(args, extra...)
	if err := validateArgs(args); err != nil {
		return nil, err
	}

	if err := validAcctFlags(flags); err != nil {
		return nil, err
	}

	return &AcctRequest{
		Flags:        flags,
		AuthenMethod: r.AuthenMethod,
		PrivLevel:    r.PrivLevel,
		AuthenType:   r.AuthenType,
		Service:      r.Service,
		User:         f.user,
		Port:         f.port,
		RemoteAddr:   f.remoteAddr,
		Args:         args,
	}, nil
}
