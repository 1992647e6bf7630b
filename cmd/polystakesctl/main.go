// Command polystakesctl is the client-side companion of a polystakes node. It
// manages the secp256k1 keys that authenticate ledger calls, signs call bodies
// and follows a node's event stream.
//
// Usage:
//
//	polystakesctl generate [-password P -out key.json]
//	polystakesctl encrypt -key HEX -password P -out key.json
//	polystakesctl address [-config config.toml] [-key-file key.json]
//	polystakesctl sign [-config config.toml] -function stake-yes -body '{"market_id":1,"amount":10}'
//	polystakesctl watch [-url ws://localhost:8000/ws] [-types staked,market_resolved] [-markets 1,2]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alanyoungcy/polystakes/internal/config"
	"github.com/alanyoungcy/polystakes/internal/crypto"
	"github.com/alanyoungcy/polystakes/internal/domain"
	"github.com/alanyoungcy/polystakes/internal/feed"
	"github.com/alanyoungcy/polystakes/internal/server/middleware"
)

var errUsage = errors.New("usage: polystakesctl <generate|encrypt|address|sign|watch> [flags]")

func main() {
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := runWatch(ctx, args[1:], os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "polystakesctl:", err)
			os.Exit(1)
		}
		return
	}
	if err := run(args, os.Stdout, time.Now); err != nil {
		fmt.Fprintln(os.Stderr, "polystakesctl:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, now func() time.Time) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "generate":
		return runGenerate(args[1:], out)
	case "encrypt":
		return runEncrypt(args[1:], out)
	case "address":
		return runAddress(args[1:], out)
	case "sign":
		return runSign(args[1:], out, now)
	default:
		return errUsage
	}
}

func runGenerate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	password := fs.String("password", "", "encrypt the new key with this password")
	path := fs.String("out", "", "write the encrypted key to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key, principal, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "principal: %s\n", principal)
	if *path == "" {
		fmt.Fprintf(out, "private_key: %s\n", key)
		return nil
	}
	return writeEncrypted(key, *password, *path, out)
}

func runEncrypt(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("encrypt", flag.ContinueOnError)
	key := fs.String("key", "", "hex private key")
	password := fs.String("password", "", "encryption password")
	path := fs.String("out", "", "output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" || *path == "" {
		return errors.New("encrypt: -key and -out are required")
	}
	signer, err := crypto.NewSigner(*key, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "principal: %s\n", signer.Principal())
	return writeEncrypted(*key, *password, *path, out)
}

func writeEncrypted(key, password, path string, out io.Writer) error {
	if password == "" {
		return errors.New("a -password is required to write a key file")
	}
	blob, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	fmt.Fprintf(out, "key_file: %s\n", path)
	return nil
}

// loadSigner resolves the [signer] section of the config at path.
func loadSigner(path string) (*crypto.Signer, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    cfg.Signer.PrivateKey,
		EncryptedKeyPath: cfg.Signer.EncryptedKeyPath,
		KeyPassword:      cfg.Signer.KeyPassword,
	}, cfg.Server.ChainID)
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	configPath := fs.String("config", "", "configuration file")
	keyFile := fs.String("key-file", "", "read the principal recorded in an encrypted key file; no password needed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keyFile != "" {
		data, err := os.ReadFile(*keyFile)
		if err != nil {
			return fmt.Errorf("address: %w", err)
		}
		p, err := crypto.KeyFilePrincipal(data)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, p)
		return nil
	}
	signer, err := loadSigner(*configPath)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, signer.Principal())
	return nil
}

// runSign prints the headers that authenticate body as a call to function.
func runSign(args []string, out io.Writer, now func() time.Time) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	configPath := fs.String("config", "", "configuration file")
	fn := fs.String("function", "", "ledger entry point, e.g. create-market")
	body := fs.String("body", "", "exact JSON request body")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fn == "" {
		return errors.New("sign: -function is required")
	}

	signer, err := loadSigner(*configPath)
	if err != nil {
		return err
	}
	ts := now().Unix()
	sig, err := signer.SignCall(domain.Function(*fn), []byte(*body), ts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s\n", middleware.HeaderPrincipal, signer.Principal())
	fmt.Fprintf(out, "%s: %d\n", middleware.HeaderTimestamp, ts)
	fmt.Fprintf(out, "%s: %s\n", middleware.HeaderSignature, sig)
	return nil
}

// runWatch prints each event of a node's stream as one JSON line.
func runWatch(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	url := fs.String("url", "ws://localhost:8000/ws", "node WebSocket URL")
	types := fs.String("types", "", "comma-separated event types")
	markets := fs.String("markets", "", "comma-separated market ids")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sub, err := parseSubscription(*types, *markets)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	enc := json.NewEncoder(out)
	f := feed.NewEventFeed(*url, sub, func(_ context.Context, evt domain.Event) {
		_ = enc.Encode(evt)
	}, logger).OnHello(func(h feed.Hello) {
		fmt.Fprintf(os.Stderr, "connected: mode=%s height=%d\n", h.Mode, h.Height)
	})
	defer f.Close()
	return f.Run(ctx)
}

func parseSubscription(types, markets string) (feed.Subscription, error) {
	var sub feed.Subscription
	for _, t := range strings.Split(types, ",") {
		if t = strings.TrimSpace(t); t != "" {
			sub.Types = append(sub.Types, t)
		}
	}
	for _, m := range strings.Split(markets, ",") {
		if m = strings.TrimSpace(m); m == "" {
			continue
		}
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil || id == 0 {
			return feed.Subscription{}, fmt.Errorf("watch: invalid market id %q", m)
		}
		sub.Markets = append(sub.Markets, id)
	}
	return sub, nil
}
