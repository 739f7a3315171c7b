// Command spx is the CLI driver for the vFile/vSpectranext file-access
// protocol, grounded on the teacher's host/cmd/gopper-host/main.go (bare
// flag globals, one function per subcommand, diagnostics to stderr).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"spx/internal/spxerr"
	"spx/internal/spxlog"
	"spx/spx"
)

var (
	port       = flag.String("port", "", "Device path or host:port (default: SPECTRANEXT_CLI, then discovery, then localhost:1337)")
	noProgress = flag.Bool("no-progress", false, "Disable progress bars")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()
	spxlog.SetVerbose(*verbose)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	ctx := context.Background()
	client, err := spx.Connect(ctx, *port, *verbose)
	if err != nil {
		fail(err)
	}

	sub, rest := args[0], args[1:]
	err = dispatch(ctx, client, sub, rest)
	client.Close()
	if err != nil {
		fail(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: spx [--port P] [--no-progress] [--verbose] <command> [args]

commands:
  ls [path]
  get <remote> <local>
  put <local> <remote>
  rm <path>
  mv <old> <new>
  mkdir <path>
  rmdir <path>
  reboot
  autoboot
  exec [-f [seconds]] <command>`)
}

func dispatch(ctx context.Context, c *spx.Client, sub string, args []string) error {
	switch sub {
	case "ls":
		return cmdLs(c, args)
	case "get":
		return cmdGet(c, args)
	case "put":
		return cmdPut(c, args)
	case "rm":
		return cmdRm(c, args)
	case "mv":
		return cmdMv(c, args)
	case "mkdir":
		return cmdMkdir(c, args)
	case "rmdir":
		return cmdRmdir(c, args)
	case "reboot":
		return c.Reboot()
	case "autoboot":
		return c.Autoboot()
	case "exec":
		return cmdExec(ctx, c, args)
	default:
		usage()
		return spxerr.Errorf(spxerr.Invalid, "spx", "unknown command %q", sub)
	}
}

func cmdLs(c *spx.Client, args []string) error {
	path := "/"
	if len(args) > 0 {
		path = args[0]
	}
	entries, err := c.Ls(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%c %8d %s\n", e.Kind, e.Size, e.Name)
	}
	return nil
}

func progressFor() spx.Progress {
	if *noProgress {
		return nil
	}
	return spx.NewProgress()
}

func cmdGet(c *spx.Client, args []string) error {
	if len(args) != 2 {
		return spxerr.Errorf(spxerr.Invalid, "spx get", "expected <remote> <local>")
	}
	return c.Get(args[0], args[1], progressFor())
}

func cmdPut(c *spx.Client, args []string) error {
	if len(args) != 2 {
		return spxerr.Errorf(spxerr.Invalid, "spx put", "expected <local> <remote>")
	}
	return c.Put(args[0], args[1], progressFor())
}

func cmdRm(c *spx.Client, args []string) error {
	if len(args) != 1 {
		return spxerr.Errorf(spxerr.Invalid, "spx rm", "expected <path>")
	}
	return c.Rm(args[0])
}

func cmdMv(c *spx.Client, args []string) error {
	if len(args) != 2 {
		return spxerr.Errorf(spxerr.Invalid, "spx mv", "expected <old> <new>")
	}
	return c.Mv(args[0], args[1])
}

func cmdMkdir(c *spx.Client, args []string) error {
	if len(args) != 1 {
		return spxerr.Errorf(spxerr.Invalid, "spx mkdir", "expected <path>")
	}
	return c.Mkdir(args[0])
}

func cmdRmdir(c *spx.Client, args []string) error {
	if len(args) != 1 {
		return spxerr.Errorf(spxerr.Invalid, "spx rmdir", "expected <path>")
	}
	return c.Rmdir(args[0])
}

func cmdExec(ctx context.Context, c *spx.Client, args []string) error {
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	follow := fs.Bool("f", false, "follow: stream output until the command completes")
	if err := fs.Parse(args); err != nil {
		return spxerr.Errorf(spxerr.Invalid, "spx exec", "%v", err)
	}

	rest := fs.Args()
	var followFor time.Duration
	if *follow && len(rest) > 0 {
		if secs, err := strconv.ParseFloat(rest[0], 64); err == nil {
			followFor = time.Duration(secs * float64(time.Second))
			rest = rest[1:]
		}
	}
	if len(rest) == 0 {
		return spxerr.Errorf(spxerr.Invalid, "spx exec", "expected <command>")
	}
	command := rest[0]

	cancel := make(chan struct{})
	if *follow {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)
		go func() {
			<-sigCh
			close(cancel)
		}()
		defer signal.Stop(sigCh)
	}

	return c.Exec(ctx, command, *follow, followFor, os.Stdout, cancel)
}

func fail(err error) {
	kind := spxerr.Io
	var se *spxerr.Error
	if as, ok := err.(*spxerr.Error); ok {
		se = as
		kind = se.Kind
	}
	fmt.Fprintf(os.Stderr, "spx: %s: %v\n", kind, err)
	os.Exit(1)
}
