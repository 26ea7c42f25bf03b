package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dunamismax/pixelproxy/internal/spec"
)

const opHelp = `Ops are written as:
  resize:WxH[:filter]   filter = nearest|triangle|catmull-rom|gaussian|lanczos3
  seam:WxH
  filter:NAME           NAME = oceanic|islands|marine
  watermark:X,Y`

func newEncodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "encode <op>...",
		Short: "Encode ops into a transform token",
		Long:  "Encode ops into a transform token.\n\n" + opHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := parseChain(args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pathToken(chain))
			return nil
		},
	}
}

func newDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <token>",
		Short: "Print the ops a transform token describes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := args[0]
			if token == spec.EmptyToken {
				token = ""
			}
			chain, err := spec.Decode(token)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(chain) == 0 {
				fmt.Fprintln(out, "(identity)")
				return nil
			}
			for i, op := range chain {
				fmt.Fprintf(out, "%d\t%s\n", i, op)
			}
			return nil
		},
	}
}

func newURLCommand() *cobra.Command {
	var base string

	cmd := &cobra.Command{
		Use:   "url <source-url> <op>...",
		Short: "Print a proxy URL that renders source-url through the ops",
		Long:  "Print a proxy URL that renders source-url through the ops.\n\n" + opHelp,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := parseChain(args[1:])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), proxyURL(base, args[0], chain))
			return nil
		},
	}
	cmd.Flags().StringVar(&base, "base", "http://localhost:8080", "Base URL of the proxy")
	return cmd
}

func parseChain(args []string) (spec.Chain, error) {
	chain := make(spec.Chain, 0, len(args))
	for _, arg := range args {
		op, err := spec.ParseOp(arg)
		if err != nil {
			return nil, err
		}
		chain = append(chain, op)
	}
	return chain, nil
}

func pathToken(chain spec.Chain) string {
	if len(chain) == 0 {
		return spec.EmptyToken
	}
	return spec.Encode(chain)
}

// proxyURL escapes source as one path segment. PathEscape leaves '+' alone,
// which some intermediaries read as a space, so it is escaped as well.
func proxyURL(base, source string, chain spec.Chain) string {
	escaped := strings.ReplaceAll(url.PathEscape(source), "+", "%2B")
	return strings.TrimRight(base, "/") + "/image/" + pathToken(chain) + "/" + escaped
}
