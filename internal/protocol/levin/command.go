package levin

import "strconv"

// CommandID is the Levin command code carried in WireHeader.CommandCode.
type CommandID uint32

const (
	CmdHandshake          CommandID = 1001
	CmdPing               CommandID = 1002
	CmdTimedSync          CommandID = 1003
	CmdNewTransactions    CommandID = 2002
	CmdNotifyRequestChain CommandID = 2006
	CmdResponseChainEntry CommandID = 2007
	CmdRequestTxPool      CommandID = 2008
)

var commandNames = map[CommandID]string{
	CmdHandshake:          "handshake",
	CmdPing:               "ping",
	CmdTimedSync:          "timed_sync",
	CmdNewTransactions:    "new_transactions",
	CmdNotifyRequestChain: "request_chain",
	CmdResponseChainEntry: "response_chain_entry",
	CmdRequestTxPool:      "request_tx_pool",
}

func (c CommandID) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "unknown_" + strconv.FormatUint(uint64(c), 10)
}

// MetricLabel is the name of a known code, or "unknown" for every other code,
// so peers cannot mint label values.
func (c CommandID) MetricLabel() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "unknown"
}

// Frame is one complete header+payload unit taken off the wire.
type Frame struct {
	Header  WireHeader
	Payload []byte
}

// Command is the dispatch view of a Frame.
type Command struct {
	Code           CommandID
	IsNotification bool
	IsResponse     bool
	ReturnCode     int32
	Payload        []byte
}

func (f Frame) Command() Command {
	return Command{
		Code:           CommandID(f.Header.CommandCode),
		IsNotification: !f.Header.ResponseRequired,
		IsResponse:     f.Header.IsResponse(),
		ReturnCode:     f.Header.ReturnCode,
		Payload:        f.Payload,
	}
}

// Succeeded reports whether a response carried the success return code.
func (c Command) Succeeded() bool {
	return c.IsResponse && c.ReturnCode == RetCodeSuccess
}
