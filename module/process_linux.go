// This file is part of Gopher2600.
//
// Gopher2600 is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Gopher2600 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Gopher2600.  If not, see <https://www.gnu.org/licenses/>.

//go:build linux

package module

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/dwarfscope/dwarfscope/arch"
	"github.com/dwarfscope/dwarfscope/errors"
)

// nativeByteOrder is the byte order of every architecture this module
// supports (x86-64, arm): little-endian.
var nativeByteOrder = binary.LittleEndian

// AttachProcess PTRACE_ATTACHes every thread of pid and waits for each to
// stop, recording which threads this registry itself attached to. A thread
// that is already being traced (by a debugger's own parent, say) is left
// alone rather than stolen.
func (r *Registry) AttachProcess(pid int) error {
	threads, err := listThreads(pid)
	if err != nil {
		return err
	}

	var attached []int
	for _, tid := range threads {
		if err := unix.PtraceAttach(tid); err != nil {
			if err == unix.EPERM {
				continue
			}
			for _, t := range attached {
				unix.PtraceDetach(t)
			}
			return errors.Errorf(errors.ProcessMemoryRead, fmt.Sprintf("PTRACE_ATTACH tid %d: %v", tid, err))
		}

		var ws unix.WaitStatus
		if _, err := unix.Wait4(tid, &ws, 0, nil); err != nil {
			unix.PtraceDetach(tid)
			continue
		}
		attached = append(attached, tid)
	}

	r.mu.Lock()
	r.attachedTid = append(r.attachedTid, attached...)
	r.mu.Unlock()
	return nil
}

func listThreads(pid int) ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, errors.Errorf(errors.Canon, fmt.Sprintf("listing threads of pid %d: %v", pid, err))
	}
	var tids []int
	for _, e := range entries {
		if tid, err := strconv.Atoi(e.Name()); err == nil {
			tids = append(tids, tid)
		}
	}
	return tids, nil
}

// DetachThread PTRACE_DETACHes tid. A thread already stopped by some other
// tracer before this registry attached must never reach this call --
// Registry.Close only detaches tids it recorded in AttachProcess.
func DetachThread(tid int) error {
	if err := unix.PtraceDetach(tid); err != nil {
		return errors.Errorf(errors.Canon, fmt.Sprintf("PTRACE_DETACH tid %d: %v", tid, err))
	}
	return nil
}

// FetchRegisters is the process-register-fetch primitive the architecture
// backend table supplies: a PTRACE_GETREGS snapshot of tid, decoded through
// backend's DWARF register mapping.
func FetchRegisters(tid int, backend arch.Backend) (arch.ProcessRegisters, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return arch.ProcessRegisters{}, errors.Errorf(errors.ProcessMemoryRead, fmt.Sprintf("PTRACE_GETREGS tid %d: %v", tid, err))
	}

	// unix.PtraceRegs is defined, per GOARCH, as exactly the kernel's
	// user_regs_struct -- the same layout DecodeGRegSet already expects
	// from an NT_PRSTATUS note's pr_reg, so the raw bytes feed the same
	// decoder.
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&regs)), unsafe.Sizeof(regs))
	return backend.DecodeGRegSet(raw, nativeByteOrder)
}

// ReadWord dereferences addr in pid's address space via /proc/<pid>/mem,
// reporting ok=false rather than an error on an unreadable address --
// unwind.MemoryReader's contract.
func ReadWord(pid int, addr uint64) (uint64, bool) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/mem", pid))
	if err != nil {
		return 0, false
	}
	defer f.Close()

	buf := make([]byte, 8)
	if _, err := f.ReadAt(buf, int64(addr)); err != nil {
		return 0, false
	}
	return nativeByteOrder.Uint64(buf), true
}
