// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/client"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/logging"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/transport"
)

// NACK policies for --on-nack
const (
	nackPrompt = "prompt"
	nackResend = "resend"
	nackAbort  = "abort"
)

var onNack string

// addNackFlag registers --on-nack on a command that sends requests
func addNackFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&onNack, "on-nack", nackPrompt, "What to do on NACK: prompt, resend or abort")
}

// OpenConnection opens the client link selected by flags and config
func OpenConnection(ctx context.Context) (transport.Link, string, error) {
	return transport.Open(ctx, transport.Options{
		Port:        cfg.Link.Port,
		Baud:        cfg.Link.Baud,
		URL:         cfg.Link.URL,
		Username:    cfg.Link.Username,
		NoSSLVerify: cfg.Link.NoSSLVerify,
	})
}

func nackPolicy(mode string) (client.NackFunc, error) {
	switch mode {
	case nackResend:
		return client.ResendAlways, nil
	case nackAbort:
		return nil, nil
	case nackPrompt:
		return promptNack, nil
	}
	return nil, fmt.Errorf("unknown --on-nack policy %q (use prompt, resend or abort)", mode)
}

// promptNack asks the operator whether to resend
func promptNack(req *lumen.Frame, attempt int) bool {
	fmt.Printf("%s not acknowledged. Please choose an option:\n", lumen.FormatCommand(req.Command()))
	fmt.Println("1: Resend the command")
	fmt.Println("2: Abandon")
	fmt.Print("Select an option: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "1"
}

// connect opens the link and wraps it in a driver. Connection failures exit
// with code 2.
func connect(ctx context.Context) (*client.Driver, transport.Link, string) {
	policy, err := nackPolicy(onNack)
	if err != nil {
		exitWith(exitConnection, "Invalid flag", err)
	}
	link, connInfo, err := OpenConnection(ctx)
	if err != nil {
		exitWith(exitConnection, "Connection error", err)
	}
	d := client.New(link, client.Options{
		Timeout:    cfg.Client.Timeout.Std(),
		MaxResends: cfg.Client.MaxResends,
		OnNack:     policy,
		Logger:     logging.Named("client"),
	})
	return d, link, connInfo
}

// exitOnProtocol maps driver errors to the exit codes
func exitOnProtocol(err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, client.ErrBusy):
		exitWith(exitProtocol, "Device is busy, try again later", err)
	case errors.Is(err, client.ErrNack):
		exitWith(exitProtocol, "Command not acknowledged", err)
	case errors.Is(err, client.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		exitWith(exitProtocol, "No reply", err)
	case errors.Is(err, client.ErrClosed):
		exitWith(exitConnection, "Connection lost", err)
	default:
		exitWith(exitProtocol, "Command failed", err)
	}
}
