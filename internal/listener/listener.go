package listener

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/net/netutil"
)

const (
	envInherit = "MISSION_INHERIT_FD"
	envFD      = "MISSION_FD"
)

// Listen adopts an inherited socket when one was handed over, otherwise it
// binds addr. maxConns > 0 caps concurrently served connections; 1 means
// strictly one connection at a time.
func Listen(addr string, maxConns int) (net.Listener, error) {
	ln, err := Inherited()
	if err != nil {
		return nil, err
	}
	if ln == nil {
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", addr, err)
		}
	}
	if maxConns > 0 {
		ln = &limitedListener{Listener: netutil.LimitListener(ln, maxConns), tcp: ln}
	}
	return ln, nil
}

// limitedListener keeps the underlying listener reachable so it can still be
// handed to a restarted process.
type limitedListener struct {
	net.Listener
	tcp net.Listener
}

// Handoff passes the listening socket to a freshly started copy of the
// process so the port never stops accepting while the old process drains.
type Handoff struct {
	Listener net.Listener
	Args     []string
	Env      []string
	Stdout   io.Writer
	Stderr   io.Writer
}

// Start launches the successor with the socket on fd 3 and returns its
// process. The caller shuts itself down afterwards.
func (h *Handoff) Start() (*os.Process, error) {
	if h.Listener == nil {
		return nil, errors.New("handoff: no listener")
	}
	if len(h.Args) == 0 {
		return nil, errors.New("handoff: no command")
	}
	file, err := socketFile(h.Listener)
	if err != nil {
		return nil, err
	}
	// The child gets its own copy of the descriptor.
	defer file.Close()

	cmd := exec.Command(h.Args[0], h.Args[1:]...)
	cmd.Stdout = h.Stdout
	cmd.Stderr = h.Stderr
	cmd.Env = handoffEnv(h.Env)
	cmd.ExtraFiles = []*os.File{file}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("handoff: start %s: %w", h.Args[0], err)
	}
	return cmd.Process, nil
}

// handoffEnv replaces any stale inheritance variables with ones pointing at
// fd 3, the first ExtraFiles slot.
func handoffEnv(env []string) []string {
	out := make([]string, 0, len(env)+2)
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if key == envInherit || key == envFD {
			continue
		}
		out = append(out, kv)
	}
	return append(out, envInherit+"=1", envFD+"=3")
}

func socketFile(ln net.Listener) (*os.File, error) {
	switch l := ln.(type) {
	case *limitedListener:
		return socketFile(l.tcp)
	case *net.TCPListener:
		file, err := l.File()
		if err != nil {
			return nil, fmt.Errorf("handoff: listener file: %w", err)
		}
		return file, nil
	default:
		return nil, fmt.Errorf("handoff: unsupported listener type %T", ln)
	}
}

// Inherited adopts the socket a predecessor handed over, or returns nil when
// the process was started normally. The inheritance variables are cleared so
// they do not leak into unrelated children.
func Inherited() (net.Listener, error) {
	if os.Getenv(envInherit) != "1" {
		return nil, nil
	}
	fdStr := os.Getenv(envFD)
	_ = os.Unsetenv(envInherit)
	_ = os.Unsetenv(envFD)
	if fdStr == "" {
		fdStr = "3"
	}
	fd, err := strconv.Atoi(fdStr)
	if err != nil || fd < 0 {
		return nil, fmt.Errorf("inherited listener: bad fd %q", fdStr)
	}
	file := os.NewFile(uintptr(fd), "inherited-listener")
	if file == nil {
		return nil, fmt.Errorf("inherited listener: fd %d not usable", fd)
	}
	// FileListener dups the descriptor; the original is ours to close.
	defer file.Close()

	ln, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("inherited listener: %w", err)
	}
	if _, ok := ln.(*net.TCPListener); !ok {
		_ = ln.Close()
		return nil, fmt.Errorf("inherited listener: fd %d is %T, want TCP", fd, ln)
	}
	return ln, nil
}
