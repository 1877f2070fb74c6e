package syscalls

import "github.com/poecap/poe/events"

// classify maps a completed (entry, exit) pair to a typed event. The table
// is explicit and closed (spec.md §4.F): unrecognized numbers fall through
// to the generic-event branch, gated by Mode.
func (d *Decoder) classify(pid int, tsNS int64, pc *pendingCall, ret int64) Result {
	switch pc.num {
	case sysOpen, sysOpenat:
		return Result{File: d.decodeOpen(pid, tsNS, pc, ret)}
	case sysClose:
		return Result{File: &events.File{TimestampNS: tsNS, TaskID: pid, Op: events.FileClose, FD: int(pc.args[0]), Result: ret}}
	case sysRead:
		return Result{File: &events.File{TimestampNS: tsNS, TaskID: pid, Op: events.FileRead, FD: int(pc.args[0]), Bytes: max0(ret), Result: ret}}
	case sysWrite:
		return Result{File: &events.File{TimestampNS: tsNS, TaskID: pid, Op: events.FileWrite, FD: int(pc.args[0]), Bytes: max0(ret), Result: ret}}
	case sysStat, sysLstat:
		return Result{File: d.decodePathFile(pid, tsNS, pc.args[0], events.FileStat, ret)}
	case sysNewfstatat:
		return Result{File: d.decodeAtPathFile(pid, tsNS, pc.args[0], pc.args[1], events.FileStat, ret)}
	case sysAccess:
		return Result{File: d.decodePathFile(pid, tsNS, pc.args[0], events.FileAccess, ret)}
	case sysFaccessat, sysFaccessat2:
		return Result{File: d.decodeAtPathFile(pid, tsNS, pc.args[0], pc.args[1], events.FileAccess, ret)}
	case sysUnlink:
		return Result{File: d.decodePathFile(pid, tsNS, pc.args[0], events.FileUnlink, ret)}
	case sysUnlinkat:
		return Result{File: d.decodeAtPathFile(pid, tsNS, pc.args[0], pc.args[1], events.FileUnlink, ret)}
	case sysRename, sysRenameat, sysRenameat2:
		return Result{File: d.decodeRename(pid, tsNS, pc, ret)}
	case sysChmod:
		return Result{File: d.decodePathFile(pid, tsNS, pc.args[0], events.FileChmod, ret)}
	case sysFchmodat:
		return Result{File: d.decodeAtPathFile(pid, tsNS, pc.args[0], pc.args[1], events.FileChmod, ret)}
	case sysFchmod:
		return Result{File: &events.File{TimestampNS: tsNS, TaskID: pid, Op: events.FileChmod, FD: int(pc.args[0]), Result: ret}}
	case sysChown:
		return Result{File: d.decodePathFile(pid, tsNS, pc.args[0], events.FileChown, ret)}
	case sysFchownat:
		return Result{File: d.decodeAtPathFile(pid, tsNS, pc.args[0], pc.args[1], events.FileChown, ret)}
	case sysFchown:
		return Result{File: &events.File{TimestampNS: tsNS, TaskID: pid, Op: events.FileChown, FD: int(pc.args[0]), Result: ret}}
	case sysLink:
		return Result{File: d.decodePathFile(pid, tsNS, pc.args[1], events.FileLink, ret)}
	case sysLinkat:
		return Result{File: d.decodeAtPathFile(pid, tsNS, pc.args[2], pc.args[3], events.FileLink, ret)}
	case sysSymlink:
		return Result{File: d.decodePathFile(pid, tsNS, pc.args[1], events.FileSymlink, ret)}
	case sysSymlinkat:
		return Result{File: d.decodeAtPathFile(pid, tsNS, pc.args[1], pc.args[2], events.FileSymlink, ret)}
	case sysReadlink:
		return Result{File: d.decodePathFile(pid, tsNS, pc.args[0], events.FileReadlink, ret)}
	case sysReadlinkat:
		return Result{File: d.decodeAtPathFile(pid, tsNS, pc.args[0], pc.args[1], events.FileReadlink, ret)}
	case sysTruncate:
		return Result{File: d.decodePathFile(pid, tsNS, pc.args[0], events.FileTruncate, ret)}
	case sysFtruncate:
		return Result{File: &events.File{TimestampNS: tsNS, TaskID: pid, Op: events.FileTruncate, FD: int(pc.args[0]), Result: ret}}
	case sysMkdir:
		return Result{File: d.decodePathFile(pid, tsNS, pc.args[0], events.FileMkdir, ret)}
	case sysMkdirat:
		return Result{File: d.decodeAtPathFile(pid, tsNS, pc.args[0], pc.args[1], events.FileMkdir, ret)}

	case sysSocket:
		return Result{Net: &events.Net{TimestampNS: tsNS, TaskID: pid, Op: events.NetSocket, FD: int(ret), Result: ret}}
	case sysConnect:
		return Result{Net: &events.Net{TimestampNS: tsNS, TaskID: pid, Op: events.NetConnect, FD: int(pc.args[0]),
			DstAddr: ReadSockaddr(pid, pc.args[1], uint32(pc.args[2])), Result: ret}}
	case sysBind:
		return Result{Net: &events.Net{TimestampNS: tsNS, TaskID: pid, Op: events.NetBind, FD: int(pc.args[0]),
			SrcAddr: ReadSockaddr(pid, pc.args[1], uint32(pc.args[2])), Result: ret}}
	case sysListen:
		return Result{Net: &events.Net{TimestampNS: tsNS, TaskID: pid, Op: events.NetListen, FD: int(pc.args[0]), Result: ret}}
	case sysAccept, sysAccept4:
		return Result{Net: &events.Net{TimestampNS: tsNS, TaskID: pid, Op: events.NetAccept, FD: int(pc.args[0]), Result: ret}}
	case sysSendto:
		dst := ReadSockaddr(pid, pc.args[4], uint32(pc.args[5]))
		return Result{
			Net: &events.Net{TimestampNS: tsNS, TaskID: pid, Op: events.NetSend, FD: int(pc.args[0]), Bytes: max0(ret),
				DstAddr: dst, Result: ret},
			DNS: d.decodeDNS(pid, tsNS, pc.args[1], pc.args[2], dst),
		}
	case sysRecvfrom:
		src := ReadSockaddr(pid, pc.args[4], uint32(pc.args[5]))
		return Result{
			Net: &events.Net{TimestampNS: tsNS, TaskID: pid, Op: events.NetRecv, FD: int(pc.args[0]), Bytes: max0(ret),
				SrcAddr: src, Result: ret},
			DNS: d.decodeDNS(pid, tsNS, pc.args[1], uint64(max0(ret)), src),
		}
	case sysSendmsg:
		return Result{Net: &events.Net{TimestampNS: tsNS, TaskID: pid, Op: events.NetSendmsg, FD: int(pc.args[0]), Bytes: max0(ret), Result: ret}}
	case sysRecvmsg:
		return Result{Net: &events.Net{TimestampNS: tsNS, TaskID: pid, Op: events.NetRecvmsg, FD: int(pc.args[0]), Bytes: max0(ret), Result: ret}}
	case sysShutdown:
		return Result{Net: &events.Net{TimestampNS: tsNS, TaskID: pid, Op: events.NetShutdown, FD: int(pc.args[0]), Result: ret}}
	case sysGetsockname:
		return Result{Net: &events.Net{TimestampNS: tsNS, TaskID: pid, Op: events.NetGetsockname, FD: int(pc.args[0]),
			SrcAddr: ReadSockaddr(pid, pc.args[1], uint32(pc.args[2])), Result: ret}}
	case sysGetpeername:
		return Result{Net: &events.Net{TimestampNS: tsNS, TaskID: pid, Op: events.NetGetpeername, FD: int(pc.args[0]),
			DstAddr: ReadSockaddr(pid, pc.args[1], uint32(pc.args[2])), Result: ret}}
	}

	if d.mode == ModeFull {
		return Result{Generic: &events.Event{TimestampNS: tsNS, TaskID: pid, Kind: events.KindGeneric,
			Detail: map[string]any{"syscall": pc.num, "result": ret}}}
	}
	return Result{}
}

func (d *Decoder) decodeOpen(pid int, tsNS int64, pc *pendingCall, ret int64) *events.File {
	path, truncated, unreadable := ReadString(pid, pc.args[0])
	flagsIdx := 1
	if pc.num == sysOpenat {
		path, truncated, unreadable = ReadString(pid, pc.args[1])
		path = ResolveAtPath(pid, int32(pc.args[0]), path)
		flagsIdx = 2
	}
	return &events.File{
		TimestampNS: tsNS, TaskID: pid, Op: events.FileOpen, Path: path,
		FD: int(ret), Flags: int(pc.args[flagsIdx]), Result: ret,
		PathTruncated: truncated, PathUnreadable: unreadable,
	}
}

func (d *Decoder) decodePathFile(pid int, tsNS int64, addr uint64, op events.FileOp, ret int64) *events.File {
	path, truncated, unreadable := ReadString(pid, addr)
	return &events.File{TimestampNS: tsNS, TaskID: pid, Op: op, Path: path, Result: ret,
		PathTruncated: truncated, PathUnreadable: unreadable}
}

func (d *Decoder) decodeAtPathFile(pid int, tsNS int64, dirfd, pathAddr uint64, op events.FileOp, ret int64) *events.File {
	path, truncated, unreadable := ReadString(pid, pathAddr)
	path = ResolveAtPath(pid, int32(dirfd), path)
	return &events.File{TimestampNS: tsNS, TaskID: pid, Op: op, Path: path, Result: ret,
		PathTruncated: truncated, PathUnreadable: unreadable}
}

func (d *Decoder) decodeRename(pid int, tsNS int64, pc *pendingCall, ret int64) *events.File {
	var oldPath, newPath string
	var truncated, unreadable bool
	switch pc.num {
	case sysRename:
		oldPath, truncated, unreadable = ReadString(pid, pc.args[0])
		newPath, _, _ = ReadString(pid, pc.args[1])
	default: // renameat, renameat2
		p1, t1, u1 := ReadString(pid, pc.args[1])
		p2, _, _ := ReadString(pid, pc.args[3])
		oldPath = ResolveAtPath(pid, int32(pc.args[0]), p1)
		newPath = ResolveAtPath(pid, int32(pc.args[2]), p2)
		truncated, unreadable = t1, u1
	}
	return &events.File{TimestampNS: tsNS, TaskID: pid, Op: events.FileRename,
		Path: oldPath + " -> " + newPath, Result: ret, PathTruncated: truncated, PathUnreadable: unreadable}
}

func max0(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
