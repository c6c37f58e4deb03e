package tacplus

import "fmt"

// Protocol version nibbles as defined in RFC8907 Section 4.1.
const (
	// MajorVersion is the TACACS+ major version (0x0c).
	MajorVersion = 0x0c

	// MinorVersionDefault is used by every packet except the PAP/CHAP/MS-CHAP
	// authentication exchanges.
	MinorVersionDefault = 0x00

	// MinorVersionOne is used by PAP, CHAP and MS-CHAP authentication exchanges.
	MinorVersionOne = 0x01
)

// PacketType identifies the body carried by a packet.
type PacketType uint8

// Packet types as defined in RFC8907 Section 4.1.
const (
	PacketTypeAuthen PacketType = 0x01
	PacketTypeAuthor PacketType = 0x02
	PacketTypeAcct   PacketType = 0x03
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeAuthen:
		return "authentication"
	case PacketTypeAuthor:
		return "authorization"
	case PacketTypeAcct:
		return "accounting"
	default:
		return fmt.Sprintf("PacketType(%#x)", uint8(t))
	}
}

// Header flags as defined in RFC8907 Section 4.1.
const (
	// FlagUnencrypted indicates the packet body is not obfuscated.
	FlagUnencrypted uint8 = 0x01

	// FlagSingleConnect requests (client) or confirms (server) single-connection mode.
	FlagSingleConnect uint8 = 0x04
)

// Privilege levels as defined in RFC8907 Section 9.
const (
	PrivLvlMin  uint8 = 0x00
	PrivLvlUser uint8 = 0x01
	PrivLvlRoot uint8 = 0x0f
	PrivLvlMax  uint8 = 0x0f
)

// AuthenAction is the action field of an authentication START.
type AuthenAction uint8

// Authentication actions as defined in RFC8907 Section 5.1.
const (
	AuthenActionLogin    AuthenAction = 0x01
	AuthenActionChPass   AuthenAction = 0x02
	AuthenActionSendAuth AuthenAction = 0x04
)

// AuthenType selects the authentication method of a START packet. It also
// selects the minor version and the layout of the data field.
type AuthenType uint8

// Authentication types as defined in RFC8907 Section 5.1.
const (
	AuthenTypeNotSet   AuthenType = 0x00
	AuthenTypeASCII    AuthenType = 0x01
	AuthenTypePAP      AuthenType = 0x02
	AuthenTypeCHAP     AuthenType = 0x03
	AuthenTypeMSCHAP   AuthenType = 0x05
	AuthenTypeMSCHAPV2 AuthenType = 0x06
)

func (t AuthenType) String() string {
	switch t {
	case AuthenTypeNotSet:
		return "not-set"
	case AuthenTypeASCII:
		return "ascii"
	case AuthenTypePAP:
		return "pap"
	case AuthenTypeCHAP:
		return "chap"
	case AuthenTypeMSCHAP:
		return "mschap"
	case AuthenTypeMSCHAPV2:
		return "mschapv2"
	default:
		return fmt.Sprintf("AuthenType(%#x)", uint8(t))
	}
}

// MinorVersion returns the minor version a packet of this authentication type
// must carry for the given action.
func (t AuthenType) MinorVersion(action AuthenAction) uint8 {
	if action != AuthenActionLogin && action != AuthenActionSendAuth {
		return MinorVersionDefault
	}

	switch t {
	case AuthenTypePAP, AuthenTypeCHAP, AuthenTypeMSCHAP, AuthenTypeMSCHAPV2:
		return MinorVersionOne
	default:
		return MinorVersionDefault
	}
}

// AuthenService is the service requesting authentication.
type AuthenService uint8

// Authentication services as defined in RFC8907 Section 5.1.
const (
	AuthenServiceNone    AuthenService = 0x00
	AuthenServiceLogin   AuthenService = 0x01
	AuthenServiceEnable  AuthenService = 0x02
	AuthenServicePPP     AuthenService = 0x03
	AuthenServicePT      AuthenService = 0x05
	AuthenServiceRCMD    AuthenService = 0x06
	AuthenServiceX25     AuthenService = 0x07
	AuthenServiceNASI    AuthenService = 0x08
	AuthenServiceFwProxy AuthenService = 0x09
)

// AuthenStatus is the status of an authentication REPLY.
type AuthenStatus uint8

// Authentication statuses as defined in RFC8907 Section 5.2.
const (
	AuthenStatusPass    AuthenStatus = 0x01
	AuthenStatusFail    AuthenStatus = 0x02
	AuthenStatusGetData AuthenStatus = 0x03
	AuthenStatusGetUser AuthenStatus = 0x04
	AuthenStatusGetPass AuthenStatus = 0x05
	AuthenStatusRestart AuthenStatus = 0x06
	AuthenStatusError   AuthenStatus = 0x07
	AuthenStatusFollow  AuthenStatus = 0x21
)

func (s AuthenStatus) String() string {
	switch s {
	case AuthenStatusPass:
		return "pass"
	case AuthenStatusFail:
		return "fail"
	case AuthenStatusGetData:
		return "getdata"
	case AuthenStatusGetUser:
		return "getuser"
	case AuthenStatusGetPass:
		return "getpass"
	case AuthenStatusRestart:
		return "restart"
	case AuthenStatusError:
		return "error"
	case AuthenStatusFollow:
		return "follow"
	default:
		return fmt.Sprintf("AuthenStatus(%#x)", uint8(s))
	}
}

func (s AuthenStatus) valid() bool {
	return (s >= AuthenStatusPass && s <= AuthenStatusError) || s == AuthenStatusFollow
}

// Authentication REPLY flags as defined in RFC8907 Section 5.2.
const (
	// AuthenReplyFlagNoEcho asks the client not to echo the user's response.
	AuthenReplyFlagNoEcho uint8 = 0x01
)

// Authentication CONTINUE flags as defined in RFC8907 Section 5.3.
const (
	// AuthenContinueFlagAbort terminates the authentication exchange.
	AuthenContinueFlagAbort uint8 = 0x01
)

// AuthenMethod describes how the user was authenticated, carried by
// authorization and accounting requests.
type AuthenMethod uint8

// Authentication methods as defined in RFC8907 Section 6.1.
const (
	AuthenMethodNotSet     AuthenMethod = 0x00
	AuthenMethodNone       AuthenMethod = 0x01
	AuthenMethodKRB5       AuthenMethod = 0x02
	AuthenMethodLine       AuthenMethod = 0x03
	AuthenMethodEnable     AuthenMethod = 0x04
	AuthenMethodLocal      AuthenMethod = 0x05
	AuthenMethodTACACSPlus AuthenMethod = 0x06
	AuthenMethodGuest      AuthenMethod = 0x08
	AuthenMethodRadius     AuthenMethod = 0x10
	AuthenMethodKRB4       AuthenMethod = 0x11
	AuthenMethodRCMD       AuthenMethod = 0x20
)

// AuthorStatus is the status of an authorization RESPONSE.
type AuthorStatus uint8

// Authorization statuses as defined in RFC8907 Section 6.2.
const (
	AuthorStatusPassAdd  AuthorStatus = 0x01
	AuthorStatusPassRepl AuthorStatus = 0x02
	AuthorStatusFail     AuthorStatus = 0x10
	AuthorStatusError    AuthorStatus = 0x11
	AuthorStatusFollow   AuthorStatus = 0x21
)

func (s AuthorStatus) String() string {
	switch s {
	case AuthorStatusPassAdd:
		return "pass-add"
	case AuthorStatusPassRepl:
		return "pass-repl"
	case AuthorStatusFail:
		return "fail"
	case AuthorStatusError:
		return "error"
	case AuthorStatusFollow:
		return "follow"
	default:
		return fmt.Sprintf("AuthorStatus(%#x)", uint8(s))
	}
}

func (s AuthorStatus) valid() bool {
	switch s {
	case AuthorStatusPassAdd, AuthorStatusPassRepl, AuthorStatusFail, AuthorStatusError, AuthorStatusFollow:
		return true
	}
	return false
}

// Accounting REQUEST flags as defined in RFC8907 Section 7.1.
const (
	AcctFlagStart    uint8 = 0x02
	AcctFlagStop     uint8 = 0x04
	AcctFlagWatchdog uint8 = 0x08
)

// AcctStatus is the status of an accounting REPLY.
type AcctStatus uint8

// Accounting statuses as defined in RFC8907 Section 7.2.
const (
	AcctStatusSuccess AcctStatus = 0x01
	AcctStatusError   AcctStatus = 0x02
	AcctStatusFollow  AcctStatus = 0x21
)

func (s AcctStatus) String() string {
	switch s {
	case AcctStatusSuccess:
		return "success"
	case AcctStatusError:
		return "error"
	case AcctStatusFollow:
		return "follow"
	default:
		return fmt.Sprintf("AcctStatus(%#x)", uint8(s))
	}
}

func (s AcctStatus) valid() bool {
	return s == AcctStatusSuccess || s == AcctStatusError || s == AcctStatusFollow
}

// HeaderLength is the fixed size of a TACACS+ header in bytes.
const HeaderLength = 12

// DefaultPort is the default TACACS+ port as defined in RFC8907.
const DefaultPort = 49

// DefaultTLSPort is the TACACS+ over TLS port defined in RFC9887.
const DefaultTLSPort = 300

// DefaultMaxBodyLength bounds the body length accepted from a server (256KB).
const DefaultMaxBodyLength = 256 * 1024

// maxSeqNo is the highest sequence number a session may use.
const maxSeqNo = 0xff
