// extronctl talks SIS to a single matrix switcher from the command line.
//
//	extronctl --host 10.0.0.5 --inputs 8 --outputs 4 route 2 5
//	extronctl --host 10.0.0.5 --inputs 8 --outputs 4 status
//	extronctl hash-password < password.txt
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprintf(w, `Usage: extronctl [flags] <command> [args]

Commands:
  route <output> <input>   tie input to output (input 0 clears it)
  query <output>           print the input routed to output
  status                   print every output
  info                     print the matrix size the device reports
  watch                    print routing changes until interrupted
  hash-password            read a password from stdin and print its hash

Flags:
%s`, flags.FlagUsages())
}
