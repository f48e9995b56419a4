// Command locadora is the command-line collaborator of the storefront. Each
// invocation is one execution context over the shared device store.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/ucasvieira/locadora/internal/app"
	"github.com/ucasvieira/locadora/internal/config"
	"github.com/ucasvieira/locadora/internal/errs"
)

func usage() {
	fmt.Fprintf(os.Stderr, `locadora CLI
Usage:
  locadora [-backend sqlite|postgres|memory] [-db file | -dsn DSN] <cmd> [args]

Commands:
  version
  movies list     [-search s] [-category c] [-where cond]... [-sort title|year|rating] [-desc] [-page n] [-size n]
  movies get      -id <id>
  movies add      -title <t> [-category c] [-year n] [-rating r] [-description d] [-image url] [-available]
  movies edit     -id <id> [same fields as add]
  movies rm       -id <id>                        (prints the removed record)
  movies restore  -file <json>                    ('-' = stdin)
  categories
  login           -u <username> [-p <password>]   (prompts when -p is omitted)
  logout
  whoami
  register        -u <username> [-p <password>] [-role user|admin]
  users list
  users rm        -u <username>
  users role      -u <username> -role user|admin
  rentals list
  rentals add     -customer <name> -movie <title> [-date YYYY-MM-DD] [-status Active|Returned|Late]
  rentals edit    -id <id> [-customer c] [-movie m] [-date d] [-return d] [-status s]
  rentals rm      -id <id>
  watch           [-topic movies|users|session|rentals]
`)
	flag.PrintDefaults()
	os.Exit(2)
}

var (
	version   = "dev"
	buildDate = "unknown"
)

// main opens one execution context and dispatches the subcommand.
func main() {
	cfg := &config.Config{}
	cfg.RegisterFlags(flag.CommandLine)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	if flag.Arg(0) == "version" {
		fmt.Printf("locadora %s (%s)\n", version, buildDate)
		return
	}
	if err := cfg.Finalize(); err != nil {
		fail(err)
	}

	logger, err := newLogger(cfg.Dev)
	if err != nil {
		fail(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		fail(err)
	}
	defer a.Close()

	if err := run(ctx, a, flag.Args(), os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			usage()
		}
		fail(err)
	}
}

// newLogger keeps the CLI quiet unless -dev is set; output belongs to stdout.
func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// stdinIsTerminal is swapped in tests.
var stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

// readPassword prompts on stderr without echo when stdin is a terminal and
// reads one line from in otherwise.
func readPassword(prompt string, in io.Reader) (string, error) {
	if stdinIsTerminal() {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func fail(err error) {
	code := 1
	switch {
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrRateLimited):
		code = 3
	case errors.Is(err, errs.ErrNotFound):
		code = 4
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(code)
}
