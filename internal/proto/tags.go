// Package proto holds the message-tag catalogue and protocol constants
// shared by the session driver (internal/session) and the file-transfer
// sub-protocol (internal/oftp). Keeping the catalogue in its own package
// lets both import it without either depending on the other.
package proto

// Message tags for the judge wire protocol. Tag values are arbitrary but
// must agree between server and judge; Error is pinned to 0xFFFFFFFF per
// spec, everything else is assigned in catalogue order starting at 0.
const (
	TellOnline uint32 = iota
	Hello

	DuplicatedID
	IDTooLong
	ConnectOK

	QueryInfo
	AnsQuery

	PrepareData
	DataComputingSHA1
	NeedFile
	DataError
	DataOK

	StartJudge
	StartJudgeOK
	StartJudgeWait
	CompileSucceed
	CompileFail
	ReportCase
	ReportJudgeFinish

	OFTPBegin
	OFTPTransBegin
	OFTPFileData
	OFTPFDataRecved
	OFTPCheckOK
	OFTPCheckFail
	OFTPEnd
	OFTPSystemError
)

// Error is reserved and never collides with the iota-assigned tags above.
const Error uint32 = 0xFFFFFFFF

// Version is the compiled-in protocol version both sides must agree on
// during the handshake.
const Version uint32 = 0xFF000001

// CompileMaxTimeDefault is the default bound, in seconds, on how long the
// session driver waits for a compile result after START_JUDGE_OK.
const CompileMaxTimeDefault = 30
