// Package events defines the data model shared by the capture pipeline
// (F, G, H, I), the event store (E), and the offline analyzer (M, N):
// Run, Process, the generic Event envelope, and the specialized File/Net/
// Stack/Stdio record types (spec.md §3).
package events

import "time"

// Trigger is the policy decision, at child exit, of whether to emit a pack.
type Trigger string

const (
	TriggerCrash     Trigger = "Crash"
	TriggerSignal    Trigger = "Signal"
	TriggerNonZero   Trigger = "NonZero"
	TriggerAlways    Trigger = "Always"
	TriggerCleanSkip Trigger = "CleanSkip"
)

// Run describes one supervised invocation of the child command.
type Run struct {
	ID          string
	Command     []string
	WorkDir     string
	EnvFPSHA256 string // hashed environment fingerprint, not the raw environment
	StartedAt   time.Time
	EndedAt     time.Time
	Kernel      string
	Arch        string
	Hostname    string
	SourceCommit string
	ExitCode    int
	Signal      string // empty if not signaled
	Trigger     Trigger
}

// Process is one observed task (process or thread) lifetime.
type Process struct {
	TaskID    int
	TID       int // equal to TaskID for the main thread
	ParentID  int
	Argv      []string
	Cwd       string
	StartedAt time.Time
	EndedAt   time.Time
	ExitCode  int
	Signal    string
}

// Kind is the open enumeration of generic event kinds. File/Net/Stack/Stdio
// have their own materialized tables for hot paths; Kind still tags every
// row inserted into the generic events table.
type Kind string

const (
	KindFile      Kind = "file"
	KindNet       Kind = "net"
	KindStack     Kind = "stack"
	KindStdio     Kind = "stdio"
	KindProcess   Kind = "process"
	KindGeneric   Kind = "generic"
	KindNativeRT  Kind = "native_rt"
	KindSpan      Kind = "span"
	KindDNS       Kind = "dns"
)

// Event is the generic envelope every producer emits into the store's
// channel; specialized fields live in the Detail union below.
type Event struct {
	TimestampNS int64
	TaskID      int
	Kind        Kind
	Detail      any // one of File, Net, Stack, Stdio, Process, NativeRecord, Span, or a map for generic syscalls
}

// FileOp enumerates the file syscalls the decoder classifies.
type FileOp string

const (
	FileOpen     FileOp = "open"
	FileClose    FileOp = "close"
	FileRead     FileOp = "read"
	FileWrite    FileOp = "write"
	FileStat     FileOp = "stat"
	FileUnlink   FileOp = "unlink"
	FileRename   FileOp = "rename"
	FileChmod    FileOp = "chmod"
	FileChown    FileOp = "chown"
	FileLink     FileOp = "link"
	FileSymlink  FileOp = "symlink"
	FileReadlink FileOp = "readlink"
	FileTruncate FileOp = "truncate"
	FileAccess   FileOp = "access"
	FileMkdir    FileOp = "mkdir"
)

// File is one completed (entry+exit paired) file-family syscall.
type File struct {
	TimestampNS    int64
	TaskID         int
	Op             FileOp
	Path           string
	FD             int
	Bytes          int64
	Flags          int
	Result         int64 // 0 on success, negative errno otherwise
	PathTruncated  bool
	PathUnreadable bool
}

// NetOp enumerates the network syscalls the decoder classifies.
type NetOp string

const (
	NetSocket      NetOp = "socket"
	NetConnect     NetOp = "connect"
	NetBind        NetOp = "bind"
	NetListen      NetOp = "listen"
	NetAccept      NetOp = "accept"
	NetSend        NetOp = "send"
	NetRecv        NetOp = "recv"
	NetSendmsg     NetOp = "sendmsg"
	NetRecvmsg     NetOp = "recvmsg"
	NetShutdown    NetOp = "shutdown"
	NetGetsockname NetOp = "getsockname"
	NetGetpeername NetOp = "getpeername"
)

// Net is one completed network-family syscall.
type Net struct {
	TimestampNS int64
	TaskID      int
	Op          NetOp
	Proto       string // "tcp", "udp", "unix", or "family:<n>"
	SrcAddr     string
	DstAddr     string
	Bytes       int64
	FD          int
	Result      int64
}

// Stack is one sampled call stack.
type Stack struct {
	TimestampNS int64
	TaskID      int
	Frames      []uint64 // leaf to root, raw instruction pointers
	Weight      uint64
}

// StdioStream distinguishes stdout from stderr.
type StdioStream string

const (
	StreamStdout StdioStream = "stdout"
	StreamStderr StdioStream = "stderr"
)

// Stdio is one chunk of raw (non-text) bytes read from a child's stdio pipe.
type Stdio struct {
	TimestampNS int64
	TaskID      int
	Stream      StdioStream
	Bytes       []byte
}

// NativeRecord is one entry ingested from the external instrumentation ring
// (spec.md §6): a function enter/exit observed by the injected runtime.
type NativeRecord struct {
	TimestampNS int64
	TaskID      int
	FuncAddr    uint64
	CallSite    uint64
	EventType   uint8 // 0 = enter, 1 = exit
	Depth       uint8
}

// Span is a distributed-trace span boundary observed via POE_TRACE_ID /
// POE_PARENT_SPAN_ID propagation (spec.md §6, SPEC_FULL.md §4).
type Span struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	TaskID       int
	StartedAt    time.Time
	EndedAt      time.Time
}

// DNS is one decoded DNS query or response observed over UDP port 53
// (SPEC_FULL.md §4's "DNS request/response correlation" supplement,
// grounded on the teacher's network/types.go DNSInfo). QueryName is
// already sanitized to the printable hostname charset before it reaches
// this struct.
type DNS struct {
	TimestampNS   int64
	TaskID        int
	TransactionID uint16
	IsResponse    bool
	Flags         uint16
	QuestionCount uint16
	AnswerCount   uint16
	QueryName     string
	QueryType     uint16
	PeerAddr      string // the :53 address observed on this side of the exchange
}
