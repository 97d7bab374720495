// Package pam implements the framed request/response protocol spoken between
// the PAM client module and the responder.
//
// Requests arrive in one of three versions. Version 1 is a fixed sequence of
// NUL-terminated strings followed by two auth tokens. Versions 2 and 3 are a
// self-delimiting list of {type}{size}{payload} items between a start and an
// end marker; version 3 additionally requires the client pid. Responses are
// {status}{count} followed by {type}{len}{payload} for each item. All integers
// are little-endian.
package pam

import "fmt"

// Protocol versions.
const (
	Version1      = 1
	Version2      = 2
	Version3      = 3
	LatestVersion = Version3
)

// Frame markers for version 2 and later.
const (
	StartMarker uint32 = 0x55555555
	EndMarker   uint32 = 0xaaaaaaaa
)

// Command identifies the operation carried by a packet.
type Command uint32

const (
	CmdGetVersion      Command = 0x0001
	CmdAuthenticate    Command = 0x00F2
	CmdSetCred         Command = 0x00F3
	CmdAcctMgmt        Command = 0x00F4
	CmdOpenSession     Command = 0x00F5
	CmdCloseSession    Command = 0x00F6
	CmdChauthtok       Command = 0x00F7
	CmdChauthtokPrelim Command = 0x00F8
	CmdPreauth         Command = 0x00F9
)

var commandNames = map[Command]string{
	CmdGetVersion:      "GET_VERSION",
	CmdAuthenticate:    "AUTHENTICATE",
	CmdSetCred:         "SETCRED",
	CmdAcctMgmt:        "ACCT_MGMT",
	CmdOpenSession:     "OPEN_SESSION",
	CmdCloseSession:    "CLOSE_SESSION",
	CmdChauthtok:       "CHAUTHTOK",
	CmdChauthtokPrelim: "CHAUTHTOK_PRELIM",
	CmdPreauth:         "PREAUTH",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("CMD(0x%04x)", uint32(c))
}

// IsPAM reports whether c is one of the PAM operations.
func (c Command) IsPAM() bool {
	return c >= CmdAuthenticate && c <= CmdPreauth
}

// Status is a PAM return code.
type Status int32

const (
	StatusSuccess          Status = 0
	StatusSystemErr        Status = 4
	StatusPermDenied       Status = 6
	StatusAuthErr          Status = 7
	StatusCredInsufficient Status = 8
	StatusAuthInfoUnavail  Status = 9
	StatusUserUnknown      Status = 10
	StatusMaxTries         Status = 11
	StatusNewAuthtokReqd   Status = 12
	StatusAcctExpired      Status = 13
	StatusCredErr          Status = 17
	StatusAuthtokErr       Status = 20
	StatusModuleUnknown    Status = 28
	StatusBadItem          Status = 29
)

var statusNames = map[Status]string{
	StatusSuccess:          "PAM_SUCCESS",
	StatusSystemErr:        "PAM_SYSTEM_ERR",
	StatusPermDenied:       "PAM_PERM_DENIED",
	StatusAuthErr:          "PAM_AUTH_ERR",
	StatusCredInsufficient: "PAM_CRED_INSUFFICIENT",
	StatusAuthInfoUnavail:  "PAM_AUTHINFO_UNAVAIL",
	StatusUserUnknown:      "PAM_USER_UNKNOWN",
	StatusMaxTries:         "PAM_MAXTRIES",
	StatusNewAuthtokReqd:   "PAM_NEW_AUTHTOK_REQD",
	StatusAcctExpired:      "PAM_ACCT_EXPIRED",
	StatusCredErr:          "PAM_CRED_ERR",
	StatusAuthtokErr:       "PAM_AUTHTOK_ERR",
	StatusModuleUnknown:    "PAM_MODULE_UNKNOWN",
	StatusBadItem:          "PAM_BAD_ITEM",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("PAM_STATUS(%d)", int32(s))
}

// ItemType tags an item in a version 2/3 request.
type ItemType uint32

const (
	ItemEnd              ItemType = ItemType(EndMarker)
	ItemUser             ItemType = 0x0001
	ItemService          ItemType = 0x0002
	ItemTTY              ItemType = 0x0003
	ItemRUser            ItemType = 0x0004
	ItemRHost            ItemType = 0x0005
	ItemAuthtok          ItemType = 0x0006
	ItemNewAuthtok       ItemType = 0x0007
	ItemCliLocale        ItemType = 0x0008
	ItemCliPID           ItemType = 0x0009
	ItemChildPID         ItemType = 0x000A
	ItemRequestedDomains ItemType = 0x000B
)

// ResponseType tags an item in a response.
type ResponseType uint32

const (
	RespUserInfo   ResponseType = 0x01
	RespDomainName ResponseType = 0x02
	RespEnvItem    ResponseType = 0x03
	RespPamEnvItem ResponseType = 0x04
	RespAllEnvItem ResponseType = 0x05
	RespOTPInfo    ResponseType = 0x06
	RespCertInfo   ResponseType = 0x07

	// ServerInfoFlag marks items meant for the server log only. Such items are
	// never sent to the client.
	ServerInfoFlag ResponseType = 0x80000000
)

// IsServerInfo reports whether t carries the server-only flag.
func (t ResponseType) IsServerInfo() bool {
	return t&ServerInfoFlag != 0
}

// UserInfoType is the first word of a RespUserInfo payload.
type UserInfoType uint32

const (
	UserInfoOfflineAuth        UserInfoType = 0x01
	UserInfoOfflineAuthDelayed UserInfoType = 0x02
	UserInfoOfflineChpass      UserInfoType = 0x03
	UserInfoOTPChpass          UserInfoType = 0x04
	UserInfoChpassError        UserInfoType = 0x05
	UserInfoNoKrbTGT           UserInfoType = 0x06
	UserInfoAccountExpired     UserInfoType = 0x07
)

// Verbosity controls which informational items reach the client.
type Verbosity int

const (
	VerbosityNone      Verbosity = 0
	VerbosityImportant Verbosity = 1
	VerbosityInfo      Verbosity = 2
	VerbosityDebug     Verbosity = 3
)
