package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"caregistrar/cmd/internal/passphrase"
	"caregistrar/crypto"
	"caregistrar/native/names"
	"caregistrar/services/registrard/config"
	"caregistrar/services/registrard/export"
	"caregistrar/services/registrard/server"
	"caregistrar/storage"
)

const (
	keygenCommand = "keygen"
	tokenCommand  = "token"
	feeCommand    = "fee"
	exportCommand = "export"

	defaultPassEnv   = "NAMECTL_KEYSTORE_PASS"
	defaultSecretEnv = config.EnvPrefix + "AUTH_SECRET"
)

// secretSource is satisfied by passphrase.Source.
type secretSource interface {
	Get() (string, error)
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: namectl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  keygen   generate a key and seal it into a keystore file")
	fmt.Fprintln(w, "  token    mint a bearer token for the registrar API")
	fmt.Fprintln(w, "  fee      compute a registration fee offline")
	fmt.Fprintln(w, "  export   write every stored record to a parquet file")
}

func run(command string, args []string, out io.Writer) error {
	switch command {
	case keygenCommand:
		return runKeygen(args, out, nil)
	case tokenCommand:
		return runToken(args, out, nil, time.Now)
	case feeCommand:
		return runFee(args, out)
	case exportCommand:
		return runExport(args, out, time.Now)
	case "help", "-h", "--help":
		usage(out)
		return nil
	default:
		usage(os.Stderr)
		return fmt.Errorf("unknown command %q", command)
	}
}

func runKeygen(args []string, out io.Writer, secret secretSource) error {
	fs := flag.NewFlagSet(keygenCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", "", "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	light := fs.Bool("light", false, "Use light scrypt parameters (development only)")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*keystorePath) == "" {
		return errors.New("--keystore is required")
	}
	if !*force {
		if _, err := os.Stat(*keystorePath); err == nil {
			return fmt.Errorf("keystore file %s already exists (use --force to overwrite)", *keystorePath)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	if secret == nil {
		secret = passphrase.NewSource(*passEnv, "keystore passphrase").WithConfirmation()
	}
	pass, err := secret.Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	strength := crypto.StandardStrength
	if *light {
		strength = crypto.LightStrength
	}
	addr, err := crypto.SaveToKeystore(*keystorePath, key, pass, strength)
	if err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	fmt.Fprintf(out, "identity: %s\n", addr.String())
	fmt.Fprintf(out, "hex:      0x%s\n", hex.EncodeToString(addr.Bytes()))
	fmt.Fprintf(out, "keystore: %s\n", *keystorePath)
	return nil
}

func runToken(args []string, out io.Writer, secret secretSource, now func() time.Time) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	subject := fs.String("subject", "", "Caller identity (ca1... or 0x hex)")
	keystorePath := fs.String("keystore", "", "Derive the subject from this keystore instead")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable containing the HMAC secret")
	issuer := fs.String("issuer", "", "Token issuer claim")
	audience := fs.String("audience", "", "Token audience claim")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sub := strings.TrimSpace(*subject)
	if sub == "" && *keystorePath != "" {
		pass, err := passphrase.NewSource(*passEnv, "keystore passphrase").Get()
		if err != nil {
			return err
		}
		key, err := crypto.LoadFromKeystore(*keystorePath, pass)
		if err != nil {
			return fmt.Errorf("load keystore: %w", err)
		}
		sub = key.PubKey().Address().String()
	}
	if sub == "" {
		return errors.New("--subject or --keystore is required")
	}
	identity, err := crypto.ParseIdentity(sub)
	if err != nil {
		return fmt.Errorf("subject: %w", err)
	}
	if secret == nil {
		secret = passphrase.NewSource(*secretEnv, "HMAC secret")
	}
	hmacSecret, err := secret.Get()
	if err != nil {
		return err
	}
	token, err := server.IssueToken(hmacSecret, crypto.FormatIdentity(identity), *issuer, *audience, *ttl, now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runFee(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(feeCommand, flag.ContinueOnError)
	baseCents := fs.Uint64("base-cents", 500, "Base price per year in USD cents")
	price := fs.Int64("price", 0, "Quote price mantissa")
	expo := fs.Int("expo", -8, "Quote exponent")
	years := fs.Uint64("years", 1, "Registration years")
	baseUnits := fs.Uint64("base-units", names.DefaultNativeBaseUnits, "Base units per native unit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *price <= 0 {
		return errors.New("--price must be positive")
	}
	pricer := names.Pricer{NativeBaseUnits: *baseUnits, FeedID: names.DefaultFeedID}
	now := time.Now().Unix()
	quote := names.PriceQuote{Price: *price, Exponent: int32(*expo), PublishedAt: now, FeedID: names.DefaultFeedID}
	fee, err := pricer.ComputeFee(*baseCents, *years, quote, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d\n", fee)
	return nil
}

func runExport(args []string, out io.Writer, now func() time.Time) error {
	fs := flag.NewFlagSet(exportCommand, flag.ContinueOnError)
	backend := fs.String("backend", "leveldb", "Store backend (leveldb, bolt)")
	path := fs.String("path", "", "Store path")
	outPath := fs.String("out", "registry.parquet", "Output parquet file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*path) == "" {
		return errors.New("--path is required")
	}
	db, err := storage.Open(*backend, *path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	return exportStore(names.NewStore(db), *outPath, out, now)
}

func exportStore(store *names.Store, outPath string, out io.Writer, now func() time.Time) error {
	var grace int64
	txn := store.Begin()
	cfg, ok, err := txn.ConfigGet()
	txn.Discard()
	if err != nil {
		return fmt.Errorf("read registry config: %w", err)
	}
	if ok {
		grace = cfg.GracePeriodSeconds
	}
	res, err := export.WriteParquet(outPath, store, now().Unix(), grace)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "exported %d records to %s\n", res.Rows, res.Path)
	return nil
}
