// Package main provides a TACACS+ client CLI.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/vitalvas/tacplus"
	"github.com/vitalvas/tacplus/internal/config"
	"github.com/vitalvas/tacplus/internal/logging"
)

const (
	exitPass  = 0
	exitFail  = 1
	exitError = 2
)

type options struct {
	configPath string
	mode       string
	authenType string
	acctType   string
	pass       string
	args       string
	service    string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(argv []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tacplus-client", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.configPath, "config", "", "Path to a TOML config file")
	fs.StringVar(&opts.mode, "mode", "authenticate", "Operation mode: authenticate, authorize, or account")
	fs.StringVar(&opts.authenType, "authen-type", "pap", "Authentication type: pap, chap, or ascii")
	fs.StringVar(&opts.acctType, "acct-type", "start", "Accounting type: start, stop, watchdog, or task")
	fs.StringVar(&opts.pass, "pass", "", "Password for PAP or CHAP; prompted for when empty")
	fs.StringVar(&opts.args, "args", "", "Comma-separated arguments for authorization/accounting (name=value or name*value)")
	fs.StringVar(&opts.service, "service", "login", "Service: login, enable, ppp, or none")

	var (
		server        = fs.String("server", "", "TACACS+ server address (host:port)")
		secret        = fs.String("secret", "", "Shared secret for TACACS+ communication")
		timeout       = fs.Duration("timeout", 0, "Connection and read timeout")
		useTLS        = fs.Bool("tls", false, "Use TLS for secure communication")
		insecure      = fs.Bool("insecure", false, "Skip TLS certificate verification")
		singleConnect = fs.Bool("single-connect", false, "Request single-connect mode")
		user          = fs.String("user", "", "Username")
		port          = fs.String("port", "", "Client port name sent to the server")
		remoteAddr    = fs.String("remote-addr", "", "Remote address sent to the server")
		privLevel     = fs.Uint("priv-level", 0, "Privilege level (0-15)")
		logLevel      = fs.String("log-level", "", "Log level: debug, info, warn, or error")
		verbose       = fs.Bool("verbose", false, "Enable verbose output (same as -log-level debug)")
	)

	if err := fs.Parse(argv); err != nil {
		return exitError
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			cfg.Server = *server
		case "secret":
			cfg.Secret = *secret
		case "timeout":
			cfg.Timeout = *timeout
		case "tls":
			cfg.TLS = *useTLS
		case "insecure":
			cfg.Insecure = *insecure
		case "single-connect":
			cfg.SingleConnect = *singleConnect
		case "user":
			cfg.User = *user
		case "port":
			cfg.Port = *port
		case "remote-addr":
			cfg.RemoteAddr = *remoteAddr
		case "priv-level":
			cfg.PrivLevel = uint8(min(*privLevel, 0xff))
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if *verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	if cfg.User == "" {
		fmt.Fprintln(stderr, "Error: -user flag is required")
		return exitError
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	req, err := buildRequest(cfg, opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	client := tacplus.NewClient(cfg.Server, clientOptions(cfg, logger)...)
	defer client.Close()

	logger.Debug("client configured",
		slog.String(logging.FieldAddress, cfg.Server),
		slog.String(logging.FieldUser, cfg.User),
		slog.String("secret", logging.MaskSecret(cfg.Secret)),
		slog.Bool("tls", cfg.TLS),
		slog.Bool("single_connect", cfg.SingleConnect),
	)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout*4)
	defer cancel()

	p := &prompter{in: bufio.NewReader(stdin), stdin: stdin, out: stderr}

	switch opts.mode {
	case "authenticate":
		return runAuthentication(ctx, client, req, opts, p, stdout, stderr)
	case "authorize":
		return runAuthorization(ctx, client, req, stdout, stderr)
	case "account":
		return runAccounting(ctx, client, req, opts.acctType, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Error: unknown mode %q. Use authenticate, authorize, or account\n", opts.mode)
		return exitError
	}
}

func clientOptions(cfg *config.Config, logger *slog.Logger) []tacplus.ClientOption {
	opts := []tacplus.ClientOption{
		tacplus.WithTimeout(cfg.Timeout),
		tacplus.WithSecret(cfg.Secret),
		tacplus.WithSingleConnect(cfg.SingleConnect),
		tacplus.WithUnencrypted(cfg.Unencrypted),
		tacplus.WithMaxBodyLength(cfg.MaxBodyLength),
		tacplus.WithLogger(logger),
	}

	if cfg.TLS {
		opts = append(opts, tacplus.WithTLSConfig(tacplus.NewTLSClientConfig(cfg.TLSServerName, cfg.Insecure)))
	}

	if cfg.BreakerFailures > 0 {
		opts = append(opts, tacplus.WithCircuitBreaker(cfg.BreakerFailures, cfg.BreakerCooldown))
	}

	if cfg.DialRate > 0 {
		opts = append(opts, tacplus.WithDialRateLimit(rate.Limit(cfg.DialRate), cfg.DialBurst))
	}

	return opts
}

func buildRequest(cfg *config.Config, opts options) (tacplus.Request, error) {
	service, err := parseService(opts.service)
	if err != nil {
		return tacplus.Request{}, err
	}

	args, err := parseArgs(opts.args)
	if err != nil {
		return tacplus.Request{}, err
	}

	return tacplus.Request{
		User:         cfg.User,
		Port:         cfg.Port,
		RemoteAddr:   cfg.RemoteAddr,
		PrivLevel:    cfg.PrivLevel,
		Service:      service,
		AuthenMethod: tacplus.AuthenMethodTACACSPlus,
		AuthenType:   tacplus.AuthenTypeASCII,
		Args:         args,
	}, nil
}

func parseService(name string) (tacplus.AuthenService, error) {
	switch strings.ToLower(name) {
	case "login":
		return tacplus.AuthenServiceLogin, nil
	case "enable":
		return tacplus.AuthenServiceEnable, nil
	case "ppp":
		return tacplus.AuthenServicePPP, nil
	case "none":
		return tacplus.AuthenServiceNone, nil
	default:
		return 0, fmt.Errorf("unknown service %q", name)
	}
}

func parseArgs(argsStr string) ([]tacplus.Argument, error) {
	if argsStr == "" {
		return nil, nil
	}

	var args []tacplus.Argument
	for _, raw := range strings.Split(argsStr, ",") {
		arg, err := tacplus.ParseArgument([]byte(strings.TrimSpace(raw)))
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", raw, err)
		}
		args = append(args, arg)
	}
	return args, nil
}

// prompter reads answers from the terminal, without echo when asked.
type prompter struct {
	in    *bufio.Reader
	stdin io.Reader
	out   io.Writer
}

func (p *prompter) prompt(msg string, noEcho bool) (string, error) {
	fmt.Fprint(p.out, msg)

	if f, ok := p.stdin.(*os.File); ok && noEcho && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.out)
		return string(b), err
	}

	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runAuthentication(ctx context.Context, client *tacplus.Client, req tacplus.Request, opts options, p *prompter, stdout, stderr io.Writer) int {
	var (
		reply *tacplus.AuthenReply
		err   error
	)

	switch opts.authenType {
	case "pap", "chap":
		pass := opts.pass
		if pass == "" {
			if pass, err = p.prompt("Password: ", true); err != nil {
				fmt.Fprintf(stderr, "Error: failed to read password: %v\n", err)
				return exitError
			}
		}
		if opts.authenType == "pap" {
			reply, err = client.AuthenticatePAP(ctx, req, pass)
		} else {
			reply, err = client.AuthenticateCHAP(ctx, req, pass)
		}
	case "ascii":
		reply, err = client.AuthenticateASCII(ctx, req, p.prompt)
	default:
		fmt.Fprintf(stderr, "Error: unknown authentication type %q. Use pap, chap, or ascii\n", opts.authenType)
		return exitError
	}

	if err != nil {
		fmt.Fprintf(stderr, "Authentication error: %v\n", err)
		return exitError
	}

	if reply.IsPass() {
		fmt.Fprintln(stdout, "Authentication: PASS")
		printServerMsg(stdout, reply.ServerMsg)
		return exitPass
	}

	fmt.Fprintf(stdout, "Authentication: %s\n", strings.ToUpper(reply.Status.String()))
	printServerMsg(stdout, reply.ServerMsg)
	return exitFail
}

func runAuthorization(ctx context.Context, client *tacplus.Client, req tacplus.Request, stdout, stderr io.Writer) int {
	result, err := client.Authorize(ctx, req)
	if err != nil {
		fmt.Fprintf(stderr, "Authorization error: %v\n", err)
		return exitError
	}

	if !result.Allowed() {
		fmt.Fprintf(stdout, "Authorization: %s\n", strings.ToUpper(result.Reply.Status.String()))
		printServerMsg(stdout, result.Reply.ServerMsg)
		return exitFail
	}

	fmt.Fprintf(stdout, "Authorization: PASS (%s)\n", result.Reply.Status)
	if len(result.Args) > 0 {
		fmt.Fprintln(stdout, "Arguments:")
		for _, arg := range result.Args {
			fmt.Fprintf(stdout, "  %s\n", arg)
		}
	}
	printServerMsg(stdout, result.Reply.ServerMsg)
	return exitPass
}

func runAccounting(ctx context.Context, client *tacplus.Client, req tacplus.Request, acctType string, stdout, stderr io.Writer) int {
	var (
		reply *tacplus.AcctReply
		err   error
	)

	switch acctType {
	case "start":
		reply, err = client.Accounting(ctx, tacplus.AcctFlagStart, req)
	case "stop":
		reply, err = client.Accounting(ctx, tacplus.AcctFlagStop, req)
	case "watchdog":
		reply, err = client.Accounting(ctx, tacplus.AcctFlagWatchdog, req)
	case "task":
		reply, err = runAccountingTask(ctx, client, req, stdout)
	default:
		fmt.Fprintf(stderr, "Error: unknown accounting type %q. Use start, stop, watchdog, or task\n", acctType)
		return exitError
	}

	if err != nil {
		fmt.Fprintf(stderr, "Accounting error: %v\n", err)
		return exitError
	}

	if reply.IsSuccess() {
		fmt.Fprintf(stdout, "Accounting %s: SUCCESS\n", acctType)
		printServerMsg(stdout, reply.ServerMsg)
		return exitPass
	}

	fmt.Fprintf(stdout, "Accounting %s: %s\n", acctType, strings.ToUpper(reply.Status.String()))
	printServerMsg(stdout, reply.ServerMsg)
	return exitFail
}

// runAccountingTask sends a START and, once accepted, the matching STOP.
func runAccountingTask(ctx context.Context, client *tacplus.Client, req tacplus.Request, stdout io.Writer) (*tacplus.AcctReply, error) {
	task, reply, err := client.AccountBegin(ctx, req)
	if err != nil || !task.Started() {
		return reply, err
	}

	fmt.Fprintf(stdout, "Task %s started at %s\n", task.ID(), time.Now().Format(time.RFC3339))

	return task.End(ctx)
}

func printServerMsg(w io.Writer, msg tacplus.FieldText) {
	if msg != "" {
		fmt.Fprintf(w, "Server message: %s\n", msg)
	}
}
