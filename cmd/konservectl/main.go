// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// main.go: konservectl, a small command line client for konserve stores.
//
//	konservectl [-config FILE] convert -from edn -to msgpack < in > out
//	konservectl [-config FILE] get KEY [PATH...]
//	konservectl [-config FILE] put KEY 'EDN-VALUE'
//	konservectl [-config FILE] del KEY
//	konservectl [-config FILE] keys
//	konservectl version
//
// Values are printed and accepted in the textual notation. Only the built-in
// tags (#inst, #uuid, #bytes) can be read; any other tag is rejected.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/danielsz/konserve"
	"github.com/urfave/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "konservectl: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage: konservectl [-config FILE] convert|get|put|del|keys|version ...")

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to a YAML `FILE`; KONSERVE_CONFIG and ./konservectl.yaml are tried otherwise",
	}
	fromFlag = cli.StringFlag{
		Name:  "from",
		Usage: "input codec: edn, msgpack or cbor",
		Value: "edn",
	}
	toFlag = cli.StringFlag{
		Name:  "to",
		Usage: "output codec: edn, msgpack or cbor",
		Value: "msgpack",
	}
)

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	return newApp(ctx, stdin, stdout, stderr).Run(append([]string{"konservectl"}, args...))
}

func newApp(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "konservectl"
	app.Usage = "convert values between encodings and inspect konserve stores"
	app.HideVersion = true
	app.Writer = stdout
	app.ErrWriter = stderr
	app.Flags = []cli.Flag{configFlag}
	app.Action = func(*cli.Context) error { return errUsage }

	text := konserve.NewText()
	app.Commands = []cli.Command{
		{
			Name:  "version",
			Usage: "print build metadata",
			Action: func(*cli.Context) error {
				_, err := fmt.Fprintln(stdout, konserve.Version())
				return err
			},
		},
		{
			Name:  "convert",
			Usage: "re-encode one value from stdin to stdout",
			Flags: []cli.Flag{fromFlag, toFlag},
			Action: func(c *cli.Context) error {
				return convert(c.String(fromFlag.Name), c.String(toFlag.Name), stdin, stdout)
			},
		},
		{
			Name:      "get",
			Usage:     "print the value under KEY, or the part of it PATH leads to",
			ArgsUsage: "KEY [PATH...]",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					return errors.New("get: missing KEY")
				}
				path := make([]any, 0, c.NArg()-1)
				for _, p := range c.Args().Tail() {
					path = append(path, pathElement(p))
				}
				return withStore(ctx, c, stderr, func(store *konserve.Store) error {
					v, err := store.GetIn(ctx, c.Args().First(), path...)
					if err != nil {
						return err
					}
					return printValue(stdout, text, v)
				})
			},
		},
		{
			Name:      "put",
			Usage:     "store VALUE, written in the text notation, under KEY",
			ArgsUsage: "KEY VALUE",
			Action: func(c *cli.Context) error {
				if c.NArg() != 2 {
					return errors.New("put: want KEY VALUE")
				}
				v, err := konserve.Unmarshal(text, []byte(c.Args().Get(1)), nil)
				if err != nil {
					return fmt.Errorf("put: %w", err)
				}
				return withStore(ctx, c, stderr, func(store *konserve.Store) error {
					return store.Assoc(ctx, c.Args().First(), v)
				})
			},
		},
		{
			Name:      "del",
			Usage:     "remove KEY",
			ArgsUsage: "KEY",
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return errors.New("del: want KEY")
				}
				return withStore(ctx, c, stderr, func(store *konserve.Store) error {
					return store.Dissoc(ctx, c.Args().First())
				})
			},
		},
		{
			Name:  "keys",
			Usage: "list stored keys",
			Action: func(c *cli.Context) error {
				return withStore(ctx, c, stderr, func(store *konserve.Store) error {
					keys, err := store.Keys(ctx)
					if err != nil {
						return err
					}
					for _, k := range keys {
						if _, err := fmt.Fprintln(stdout, k); err != nil {
							return err
						}
					}
					return nil
				})
			},
		},
	}
	return app
}

// withStore opens the configured store, runs fn and closes the store.
func withStore(ctx context.Context, c *cli.Context, stderr io.Writer, fn func(*konserve.Store) error) error {
	cfg, err := Load(c.GlobalString(configFlag.Name))
	if err != nil {
		return err
	}
	zl, err := setupLogger(cfg.Log, stderr)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()

	scfg, err := cfg.Store.storeConfig(konserve.NewZapLogger(zl))
	if err != nil {
		return err
	}
	store, err := konserve.NewStore(ctx, scfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// convert re-encodes one value from stdin to stdout.
func convert(from, to string, stdin io.Reader, stdout io.Writer) error {
	in, err := newSerializer(from)
	if err != nil {
		return err
	}
	out, err := newSerializer(to)
	if err != nil {
		return err
	}
	v, err := in.Deserialize(stdin, nil)
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	var buf bytes.Buffer
	if err := out.Serialize(&buf, nil, v); err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	if out.Name() == "edn" {
		buf.WriteByte('\n')
	}
	_, err = stdout.Write(buf.Bytes())
	return err
}

func printValue(w io.Writer, s konserve.Serializer, v any) error {
	b, err := konserve.Marshal(s, nil, v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

// pathElement reads integers as sequence indexes and anything else as a
// string map key.
func pathElement(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}
