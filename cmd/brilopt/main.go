// Command brilopt reads a program on stdin, applies a user-selected
// sequence of named analysis/transformation passes, and writes the
// transformed program to stdout.
package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bril-tools/brilopt/internal/driver"
	"github.com/bril-tools/brilopt/internal/schema"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "brilopt pass_name [pass_name ...]",
		Short: "run a sequence of named optimization passes over a program",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args, cmd.InOrStdin(), cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	return cmd
}

func run(passNames []string, in io.Reader, out io.Writer) error {
	for _, name := range passNames {
		if !driver.Known(name) {
			log.WithField("pass", name).Error("unrecognized pass")
			return errors.Errorf("unrecognized pass %q", name)
		}
	}

	data, err := io.ReadAll(in)
	if err != nil {
		log.WithError(err).Error("reading program")
		return err
	}

	prog, err := schema.ValidateJSON(data)
	if err != nil {
		log.WithError(err).Error("invalid program")
		return err
	}

	if err := driver.Run(passNames, prog); err != nil {
		log.WithError(err).Error("running passes")
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(prog); err != nil {
		log.WithError(err).Error("encoding program")
		return err
	}
	return nil
}
