package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ztid/go-backend/internal/admission"
	"ztid/go-backend/internal/identity"
	"ztid/go-backend/internal/identitystore"
	"ztid/go-backend/internal/securestore"
)

const (
	exitOK           = 0
	exitInvalidInput = 10
	exitIOFailed     = 20
	exitRejected     = 30
	exitAuthFailed   = 40
	exitInterrupted  = 50
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidInput)
	}

	switch os.Args[1] {
	case "generate":
		runGenerate(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "getpublic":
		runGetPublic(os.Args[2:])
	case "sign":
		runSign(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	case "admit":
		runAdmit(os.Args[2:])
	case "mnemonic":
		runMnemonic(os.Args[2:])
	case "version", "-version", "--version":
		writeStdoutf(exitIOFailed, "ztid version=%s commit=%s build_date=%s\n", version, commit, buildDate)
	default:
		printUsage()
		os.Exit(exitInvalidInput)
	}
}

func runGenerate(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to ztid.yaml (optional)")
	secretPath := fs.String("out", "", "write the secret identity to this file instead of stdout")
	publicPath := fs.String("public", "", "also write the public identity to this file")
	save := fs.Bool("save", false, "write to the identity paths from config")
	withMnemonic := fs.Bool("mnemonic", false, "derive the identity from a new recovery phrase and print the phrase")
	recoverPhrase := fs.String("recover", "", "re-derive the identity from this recovery phrase")
	phrasePassphrase := fs.String("mnemonic-passphrase", "", "optional passphrase mixed into the recovery phrase seed")
	workers := fs.Int("workers", -1, "parallel workers; 0 means one per CPU (default from config)")
	asJSON := fs.Bool("json", false, "emit json")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	env, err := loadEnv(*configPath)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if *workers >= 0 {
		env.cfg.Generate.Workers = *workers
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	env.serveMetrics(ctx)

	mnemonic := strings.TrimSpace(*recoverPhrase)
	if *withMnemonic && mnemonic == "" {
		mnemonic, err = identity.NewMnemonic()
		if err != nil {
			writeStderrln(err.Error(), exitIOFailed)
		}
	}

	started := time.Now()
	var id identity.Identity
	if mnemonic != "" {
		id, err = identity.GenerateFromMnemonic(ctx, mnemonic, *phrasePassphrase)
	} else {
		id, err = identity.Generate(ctx, identity.GenerateOptions{
			Workers:   env.cfg.Generate.Workers,
			OnAttempt: env.metrics.ObserveGenerateAttempt,
		})
	}
	if err != nil {
		writeStderrln(err.Error(), exitCodeFor(err))
	}
	env.logger.Info("identity generated",
		"address", id.Address(),
		"fingerprint", id.PublicKey().Fingerprint(),
		"elapsed_ms", time.Since(started).Milliseconds(),
	)

	target := strings.TrimSpace(*secretPath)
	public := strings.TrimSpace(*publicPath)
	if *save {
		if target == "" {
			target = env.cfg.Identity.SecretPath
		}
		if public == "" {
			public = env.cfg.Identity.PublicPath
		}
	}
	if target != "" {
		store := identitystore.New(target, public, env.cfg.Identity.Passphrase)
		if err := store.Write(id); err != nil {
			writeStderrln(err.Error(), exitIOFailed)
		}
	}

	if *asJSON {
		out := map[string]any{
			"address":     id.Address(),
			"public":      id.String(),
			"fingerprint": id.PublicKey().Fingerprint(),
		}
		if target == "" {
			out["identity"] = id.Text(true)
		} else {
			out["secret_path"] = target
			out["public_path"] = public
		}
		if mnemonic != "" && *recoverPhrase == "" {
			out["mnemonic"] = mnemonic
		}
		if err := printJSON(out); err != nil {
			writeStderrln(err.Error(), exitIOFailed)
		}
		os.Exit(exitOK)
	}

	if target == "" {
		writeStdoutln(exitIOFailed, id.Text(true))
	} else {
		writeStdoutf(exitIOFailed, "%s written (address %s)\n", target, id.Address())
		if public != "" {
			writeStdoutf(exitIOFailed, "%s written\n", public)
		}
	}
	if mnemonic != "" && *recoverPhrase == "" {
		writeStdoutln(exitIOFailed, "recovery phrase: "+mnemonic)
	}
	os.Exit(exitOK)
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to ztid.yaml (optional)")
	asJSON := fs.Bool("json", false, "emit json")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	path := identityArg(fs, "validate <identity file>")

	env, err := loadEnv(*configPath)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	id, err := identitystore.ReadFile(path, env.cfg.Identity.Passphrase)
	if err != nil {
		writeStderrln(err.Error(), exitCodeFor(err))
	}

	started := time.Now()
	err = id.Validate()
	env.metrics.ObserveDerivation(err, time.Since(started))
	if *asJSON {
		out := map[string]any{
			"path":    path,
			"address": id.Address(),
			"valid":   err == nil,
			"secret":  id.HasSecretKey(),
		}
		if err != nil {
			out["kind"] = identity.KindOf(err).String()
			out["error"] = err.Error()
		}
		if perr := printJSON(out); perr != nil {
			writeStderrln(perr.Error(), exitIOFailed)
		}
		if err != nil {
			os.Exit(exitCodeFor(err))
		}
		os.Exit(exitOK)
	}
	if err != nil {
		writeStderrln(path+" FAILED validation: "+err.Error(), exitCodeFor(err))
	}
	writeStdoutf(exitIOFailed, "%s is a valid identity (address %s)\n", path, id.Address())
	os.Exit(exitOK)
}

func runGetPublic(args []string) {
	fs := flag.NewFlagSet("getpublic", flag.ExitOnError)
	configPath := fs.String("config", "", "path to ztid.yaml (optional)")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	path := identityArg(fs, "getpublic <identity file>")

	env, err := loadEnv(*configPath)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	id, err := identitystore.ReadFile(path, env.cfg.Identity.Passphrase)
	if err != nil {
		writeStderrln(err.Error(), exitCodeFor(err))
	}
	writeStdoutln(exitIOFailed, id.String())
	os.Exit(exitOK)
}

func runSign(args []string) {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	configPath := fs.String("config", "", "path to ztid.yaml (optional)")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if fs.NArg() != 2 {
		writeStderrln("usage: ztid sign <identity.secret> <message file|->", exitInvalidInput)
	}

	env, err := loadEnv(*configPath)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	id, err := identitystore.ReadFile(fs.Arg(0), env.cfg.Identity.Passphrase)
	if err != nil {
		writeStderrln(err.Error(), exitCodeFor(err))
	}
	message, err := readMessage(fs.Arg(1), os.Stdin)
	if err != nil {
		writeStderrln(err.Error(), exitIOFailed)
	}
	sig, err := id.Sign(message)
	if err != nil {
		writeStderrln(err.Error(), exitCodeFor(err))
	}
	writeStdoutln(exitIOFailed, hex.EncodeToString(sig))
	os.Exit(exitOK)
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", "", "path to ztid.yaml (optional)")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if fs.NArg() != 3 {
		writeStderrln("usage: ztid verify <identity> <message file|-> <signature hex>", exitInvalidInput)
	}

	env, err := loadEnv(*configPath)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	id, err := identitystore.ReadFile(fs.Arg(0), env.cfg.Identity.Passphrase)
	if err != nil {
		writeStderrln(err.Error(), exitCodeFor(err))
	}
	message, err := readMessage(fs.Arg(1), os.Stdin)
	if err != nil {
		writeStderrln(err.Error(), exitIOFailed)
	}
	sig, err := hex.DecodeString(strings.TrimSpace(fs.Arg(2)))
	if err != nil {
		writeStderrln("signature is not valid hex", exitInvalidInput)
	}
	if !id.Verify(message, sig) {
		writeStderrln("signature check FAILED", exitRejected)
	}
	writeStdoutln(exitIOFailed, "signature check passed")
	os.Exit(exitOK)
}

func runAdmit(args []string) {
	fs := flag.NewFlagSet("admit", flag.ExitOnError)
	configPath := fs.String("config", "", "path to ztid.yaml (optional)")
	source := fs.String("source", "cli", "source label used for rate limiting and logs")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	path := identityArg(fs, "admit [-source name] <records file|->")

	env, err := loadEnv(*configPath)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	verifier, err := admission.New(env.cfg.Admission, admission.Options{Logger: env.logger, Metrics: env.metrics})
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			writeStderrln(err.Error(), exitIOFailed)
		}
		in = f
	}
	decisions, err := verifier.AdmitAll(*source, in)
	if f, ok := in.(*os.File); ok && f != os.Stdin {
		_ = f.Close()
	}
	if err != nil {
		writeStderrln(err.Error(), exitIOFailed)
	}

	type result struct {
		Line     int    `json:"line"`
		Admitted bool   `json:"admitted"`
		Identity string `json:"identity,omitempty"`
		Kind     string `json:"kind,omitempty"`
		Error    string `json:"error,omitempty"`
	}
	out := make([]result, 0, len(decisions))
	code := exitOK
	for _, d := range decisions {
		r := result{Line: d.Line, Admitted: d.Err == nil}
		if d.Err != nil {
			r.Error = d.Err.Error()
			r.Kind = identity.KindOf(d.Err).String()
			code = exitRejected
		} else {
			r.Identity = d.Identity.String()
		}
		out = append(out, r)
	}
	if err := printJSON(out); err != nil {
		writeStderrln(err.Error(), exitIOFailed)
	}
	os.Exit(code)
}

func runMnemonic(args []string) {
	fs := flag.NewFlagSet("mnemonic", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	mnemonic, err := identity.NewMnemonic()
	if err != nil {
		writeStderrln(err.Error(), exitIOFailed)
	}
	writeStdoutln(exitIOFailed, mnemonic)
	os.Exit(exitOK)
}

func identityArg(fs *flag.FlagSet, usage string) string {
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		writeStderrln("usage: ztid "+usage, exitInvalidInput)
	}
	return fs.Arg(0)
}

// readMessage reads the file at path, or stdin for "-".
func readMessage(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return exitInterrupted
	case errors.Is(err, identitystore.ErrPassphraseRequired), errors.Is(err, securestore.ErrAuthFailed):
		return exitAuthFailed
	case errors.Is(err, admission.ErrRateLimited):
		return exitRejected
	}
	switch identity.KindOf(err) {
	case identity.KindBytesLength, identity.KindMalformedIdentity, identity.KindKeyEncoding, identity.KindMissingSecretKey:
		return exitInvalidInput
	case identity.KindHashcashRejected, identity.KindAddressReserved, identity.KindAddressMismatch, identity.KindKeyMismatch:
		return exitRejected
	default:
		return exitIOFailed
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	writeStdoutln(exitInvalidInput, "ztid <command> [flags]")
	writeStdoutln(exitInvalidInput, "commands:")
	writeStdoutln(exitInvalidInput, "  generate   [--config path] [--out file] [--public file] [--save] [--mnemonic | --recover phrase] [--workers n] [--json]")
	writeStdoutln(exitInvalidInput, "  validate   [--config path] [--json] <identity file>")
	writeStdoutln(exitInvalidInput, "  getpublic  [--config path] <identity file>")
	writeStdoutln(exitInvalidInput, "  sign       [--config path] <identity.secret> <message file|->")
	writeStdoutln(exitInvalidInput, "  verify     [--config path] <identity> <message file|-> <signature hex>")
	writeStdoutln(exitInvalidInput, "  admit      [--config path] [--source name] <records file|->")
	writeStdoutln(exitInvalidInput, "  mnemonic")
	writeStdoutln(exitInvalidInput, "  version")
}

func writeStdoutln(exitCode int, line string) {
	if _, err := fmt.Fprintln(os.Stdout, line); err != nil {
		os.Exit(exitCode)
	}
}

func writeStdoutf(exitCode int, format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stdout, format, args...); err != nil {
		os.Exit(exitCode)
	}
}

func writeStderrln(line string, exitCode int) {
	if _, err := fmt.Fprintln(os.Stderr, line); err != nil {
		os.Exit(exitCode)
	}
	os.Exit(exitCode)
}
