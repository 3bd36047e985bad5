package judgewire

import "fmt"

// Command selects how a packet body is interpreted by the receiver.
type Command uint32

const (
	// Handshake carries HandshakeRequest (master to worker) and HandshakeResponse (worker to master)
	CmdHandshake Command = 0x00

	// Master to worker. Every body is a BodyAfterHandshake.
	CmdVerifyToken         Command = 0x01 // TokenBody, answered by CmdReqVerifyToken
	CmdGetLogin            Command = 0x02 // LoginQuery, answered by CmdReqLogin
	CmdReqJudge            Command = 0x03 // JudgeRequestBody, answered by CmdGetJudge
	CmdGetJudgeStateUpdate Command = 0x04 // JudgeQuery, answered by CmdGetJudge

	// Worker to master. Every body is a BodyAfterHandshake.
	CmdReqVerifyToken Command = 0xF1 // TokenResult
	CmdReqLogin       Command = 0xF2 // LoginStatus
	CmdGetJudge       Command = 0xF3 // JudgeResponseBody, as a reply or an async stage push
	CmdTestCaseUpdate Command = 0xF4 // TestCaseUpdateBody, async per test case
	CmdTestCaseEnd    Command = 0xF5 // JudgeResponseBody with the final verdict

	// CmdUnknown is never dispatched. Either side uses it to report a protocol
	// error (ProtocolErrorBody) for a packet it discarded.
	CmdUnknown Command = 0xFF
)

var commandNames = map[Command]string{
	CmdHandshake:           "Handshake",
	CmdVerifyToken:         "VerifyToken",
	CmdGetLogin:            "GetLogin",
	CmdReqJudge:            "ReqJudge",
	CmdGetJudgeStateUpdate: "GetJudgeStateUpdate",
	CmdReqVerifyToken:      "ReqVerifyToken",
	CmdReqLogin:            "ReqLogin",
	CmdGetJudge:            "GetJudge",
	CmdTestCaseUpdate:      "TestCaseUpdate",
	CmdTestCaseEnd:         "TestCaseEnd",
	CmdUnknown:             "Unknown",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Command(0x%02x)", uint32(c))
}

// Known reports whether c is part of the registry.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// ClientInitiated reports whether c is sent by the master after the handshake.
func (c Command) ClientInitiated() bool {
	switch c {
	case CmdVerifyToken, CmdGetLogin, CmdReqJudge, CmdGetJudgeStateUpdate:
		return true
	}
	return false
}

// ServerInitiated reports whether c is sent by the worker after the handshake.
func (c Command) ServerInitiated() bool {
	switch c {
	case CmdReqVerifyToken, CmdReqLogin, CmdGetJudge, CmdTestCaseUpdate, CmdTestCaseEnd:
		return true
	}
	return false
}

// Reply returns the command a worker answers c with, or CmdUnknown if c is not
// a request.
func (c Command) Reply() Command {
	switch c {
	case CmdHandshake:
		return CmdHandshake
	case CmdVerifyToken:
		return CmdReqVerifyToken
	case CmdGetLogin:
		return CmdReqLogin
	case CmdReqJudge, CmdGetJudgeStateUpdate:
		return CmdGetJudge
	}
	return CmdUnknown
}
