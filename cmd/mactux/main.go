/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command mactux hosts one Linux guest executable: it loads the ELF
// image, installs the syscall-trap and signal-emulation handlers, wires
// up the IPC client to the MacTux server, and jumps into the guest's own
// entry point, never returning (spec.md §6).
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/sisungo/mactux/config"
	"github.com/sisungo/mactux/emuctx"
	"github.com/sisungo/mactux/ipc"
	"github.com/sisungo/mactux/loader"
	"github.com/sisungo/mactux/log"
	"github.com/sisungo/mactux/rtenv"
	"github.com/sisungo/mactux/rtenv/fs"
	"github.com/sisungo/mactux/rtenv/thread"
	"github.com/sisungo/mactux/sig"
	"github.com/sisungo/mactux/structures"
	"github.com/sisungo/mactux/trap"
	"github.com/sisungo/mactux/version"

	// shim registers every syscall handler via its group init()s; nothing
	// here calls into it directly, only trap.Perform (driven by sigsysGo)
	// does, once the guest starts running.
	_ "github.com/sisungo/mactux/shim"
)

const defaultConfigLoc = `/opt/mactux/etc/mactux.conf`

// maxShebangHops bounds "#!" chain resolution the way Linux's own
// binfmt_script refuses to recurse past a small, fixed depth.
const maxShebangHops = 4

// envList is a repeatable flag.Value collecting one KEY=VAL string per
// occurrence, for --env.
type envList []string

func (e *envList) String() string { return strings.Join(*e, ",") }
func (e *envList) Set(v string) error {
	*e = append(*e, v)
	return nil
}

var (
	flagServerSockPath = flag.String("server-sock-path", "", "override the IPC endpoint")
	flagInitSockFd     = flag.Int("init-sock-fd", -1, "adopt this fd as the IPC client (used after exec)")
	flagInitVfdTable   = flag.String("init-vfd-table", "", `restore the vfd table ("fd:vfd,fd:vfd,...")`)
	flagCwd            = flag.String("cwd", "", "seed the initial working directory")
	flagArg0           = flag.String("arg0", "", "override argv[0] (used for execve with non-default arg0)")
	flagLogLevel       = flag.String("log-level", "", "override MACTUX_LOG / the config file's log level")
	flagConfigFile     = flag.String("config-file", defaultConfigLoc, "location for configuration file")
	flagVer            = flag.Bool("version", false, "print version information and exit")
	flagEnv            envList
)

func init() {
	flag.Var(&flagEnv, "env", "KEY=VAL environment entry (repeatable)")
}

func main() {
	flag.Parse()
	if *flagVer {
		version.PrintVersion(os.Stdout)
		os.Exit(0)
	}

	runtime.LockOSThread() // this goroutine becomes the guest's initial thread and never gives it back

	lgr, err := log.NewStderrLogger("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mactux: failed to start logger: %v\n", err)
		os.Exit(101)
	}

	cfg, err := loadConfig()
	if err != nil {
		lgr.Fatalf("failed to load configuration: %v", err)
	}
	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}
	if err := cfg.Apply(lgr); err != nil {
		lgr.Fatalf("invalid log level %q: %v", cfg.LogLevel, err)
	}
	lgr.Infof("mactux %d.%d.%d starting, session %s", version.MajorVersion, version.MinorVersion, version.PointVersion, cfg.SessionID)

	args := flag.Args()
	if len(args) == 0 {
		lgr.Fatalf("no guest executable path given")
	}
	guestPath := args[0]
	guestArgv := args[1:]
	if len(guestArgv) > 0 && guestArgv[0] == "--" {
		guestArgv = guestArgv[1:]
	}

	trapCtx := thread.EnterCurrent()
	emuctx.EnterThread(thread.SelfTID())

	if err := trap.Install(); err != nil {
		lgr.Fatalf("failed to install syscall trap handler: %v", err)
	}
	if err := sig.Install(); err != nil {
		lgr.Fatalf("failed to install signal emulation handlers: %v", err)
	}

	sockPath := cfg.SockPath
	if *flagServerSockPath != "" {
		sockPath = *flagServerSockPath
	}
	rtenv.Context().SetServerSockPath(sockPath)

	cl, err := bringUpClient(sockPath)
	if err != nil {
		lgr.Fatalf("failed to connect to mactux server at %q: %v", sockPath, err)
	}
	trapCtx.SetClient(cl)

	if *flagInitSockFd >= 0 {
		resp, err := cl.Invoke(ipc.Request{Kind: ipc.ReqAfterExec})
		if err != nil {
			lgr.Fatalf("AfterExec handshake failed: %v", err)
		}
		if lx, ok := resp.AsError(); ok {
			lgr.Fatalf("AfterExec rejected by server: %v", lx)
		}
	}

	if *flagCwd != "" {
		rtenv.Context().SetCwd(*flagCwd)
	}
	if *flagInitVfdTable != "" {
		if err := rtenv.Context().Vfd.FillTable(*flagInitVfdTable); err != nil {
			lgr.Fatalf("invalid --init-vfd-table: %v", err)
		}
	}

	envp := os.Environ()
	if len(flagEnv) > 0 {
		envp = []string(flagEnv)
	}

	arg0 := guestPath
	if *flagArg0 != "" {
		arg0 = *flagArg0
	}

	prog, execFd, err := loadGuest(cl, guestPath)
	if err != nil {
		lgr.Fatalf("failed to load %q: %v", guestPath, err)
	}
	defer prog.Close()

	rtenv.Context().InitBrk(prog.BrkBase())

	target := prog
	base := uintptr(0)
	if prog.Interpreter() != nil {
		target = prog.Interpreter()
		base = target.Base()
	}

	aux := loader.AuxInfo{
		ExecFD:      execFd,
		PhdrBase:    prog.Phdr(),
		PhdrEntSize: uintptr(prog.Phent()),
		PhdrCount:   uintptr(prog.Phnum()),
		Entry:       prog.Entry(),
		Base:        base,
	}

	guestArgs := make([][]byte, 0, len(guestArgv)+1)
	guestArgs = append(guestArgs, []byte(arg0))
	for _, a := range guestArgv {
		guestArgs = append(guestArgs, []byte(a))
	}
	guestEnvs := make([][]byte, 0, len(envp))
	for _, e := range envp {
		guestEnvs = append(guestEnvs, []byte(e))
	}

	stack, err := loader.BuildStack(guestArgs, guestEnvs, aux)
	if err != nil {
		lgr.Fatalf("failed to build initial stack: %v", err)
	}

	lgr.Infof("jumping to guest entry %#x", target.Entry())
	stack.Jump(target.Entry())
	panic("unreachable: loader.StackInfo.Jump returned")
}

func loadConfig() (config.Config, error) {
	path := *flagConfigFile
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	return config.Load(path)
}

// bringUpClient either adopts an inherited, already-handshaken socket
// (the post-exec case) or dials a fresh one, matching spec.md §4.H's
// "After exec" paragraph.
func bringUpClient(sockPath string) (*ipc.Client, error) {
	if *flagInitSockFd >= 0 {
		cl, err := ipc.FromFd(int32(*flagInitSockFd))
		if err != nil {
			return nil, err
		}
		if err := cl.EnableCloexec(); err != nil {
			cl.Close()
			return nil, err
		}
		return cl, nil
	}
	return ipc.Dial(sockPath)
}

// loadGuest resolves guestPath (a Linux path, resolved through the
// server the same way every other path operation is) to a host file,
// follows a bounded "#!" shebang chain, and parses the final ELF image.
// It returns the loaded Program and the host fd AT_EXECFD should carry.
func loadGuest(cl *ipc.Client, guestPath string) (*loader.Program, int, error) {
	path := guestPath
	for hop := 0; ; hop++ {
		file, isVfd, err := openGuestPath(cl, path)
		if err != nil {
			return nil, -1, err
		}
		if isVfd {
			return nil, -1, fmt.Errorf("%q does not resolve to a host-backed file", path)
		}

		script, serr := loader.LoadShebang(file, path)
		if serr == nil {
			file.Close()
			if hop >= maxShebangHops {
				return nil, -1, fmt.Errorf("too many nested \"#!\" interpreters starting at %q", guestPath)
			}
			path = script.Interp
			continue
		}

		prog, lerr := loader.Load(file, func(p string) (loader.ExecFile, bool, error) {
			return openGuestPath(cl, p)
		})
		if lerr != nil {
			file.Close()
			return nil, -1, lerr
		}
		return prog, int(file.Fd()), nil
	}
}

// openGuestPath asks the server to resolve path and, for the common
// native-path case, opens the result read-only for the loader.
func openGuestPath(cl *ipc.Client, path string) (*os.File, bool, error) {
	res, lx := fs.Open(cl, []byte(path), structures.OpenHow{Flags: 0}) // O_RDONLY == 0 on Linux
	if lx != 0 {
		return nil, false, fmt.Errorf("open %s: %s", path, lx)
	}
	if res.IsVfd {
		return nil, true, nil
	}
	f, err := os.Open(res.NativePath)
	if err != nil {
		return nil, false, err
	}
	return f, false, nil
}
