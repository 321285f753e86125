package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/HerbHall/hostscout/internal/vault"
)

const secretUsage = `usage: hostscout secret <set|get|has|rm|ls> [name] [flags]

  set NAME   store a secret read from --value or standard input
  get NAME   print a secret
  has NAME   exit 0 when NAME exists, 1 otherwise
  rm NAME    delete a secret
  ls         list secret names and schemes
`

func runSecret(args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		fmt.Fprint(os.Stderr, secretUsage)
		return errors.New("secret: missing operation")
	}
	op, args := args[0], args[1:]

	var cf commonFlags
	fs := pflag.NewFlagSet("secret "+op, pflag.ContinueOnError)
	addCommonFlags(fs, &cf)
	value := fs.String("value", "", "secret value for set (default: read standard input)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, cfg, err := loadConfig(fs, &cf)
	if err != nil {
		return err
	}
	logger, err := newLogger(&cf)
	if err != nil {
		return err
	}
	v, err := vault.Open(vault.Config{DataDir: cfg.DataDir, Scheme: cfg.Vault.Scheme, Logger: logger.Named("vault")})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	name := fs.Arg(0)
	needName := op != "ls"
	if needName && name == "" {
		return fmt.Errorf("secret %s: name is required", op)
	}

	switch op {
	case "set":
		plaintext := []byte(*value)
		if !fs.Changed("value") {
			if plaintext, err = readSecret(os.Stdin); err != nil {
				return err
			}
		}
		if err := v.Put(ctx, name, plaintext); err != nil {
			return err
		}
		logger.Info("secret stored", zap.String("name", name), zap.String("scheme", v.Scheme().String()))
		return nil

	case "get":
		plaintext, err := v.Get(ctx, name)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(append(plaintext, '\n'))
		return err

	case "has":
		ok, err := v.HasSecret(name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", vault.ErrSecretNotFound, name)
		}
		return nil

	case "rm":
		return v.Delete(name)

	case "ls":
		records, err := v.List()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSCHEME\tUPDATED")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Scheme, r.UpdatedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()

	default:
		fmt.Fprint(os.Stderr, secretUsage)
		return fmt.Errorf("secret: unknown operation %q", op)
	}
}

// readSecret reads one line from r, without the trailing newline.
func readSecret(r io.Reader) ([]byte, error) {
	line, err := bufio.NewReader(r).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	line = []byte(strings.TrimRight(string(line), "\r\n"))
	if len(line) == 0 {
		return nil, errors.New("read secret: empty value")
	}
	return line, nil
}
