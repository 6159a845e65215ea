package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethpandaops/jenkdash/pkg/jenkins"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const probeJobLimit = 10

type probeOptions struct {
	url                string
	username           string
	password           string
	insecureSkipVerify bool
}

func newProbeCmd(log *logrus.Logger) *cobra.Command {
	var opts probeOptions

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check connectivity to a Jenkins server",
		Long: `Connect to a Jenkins server, verify the credentials and print the server
details together with the first jobs. The password is read from the terminal
when --password is not given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), log, opts)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "Jenkins base URL")
	cmd.Flags().StringVarP(&opts.username, "username", "u", "", "Jenkins username")
	cmd.Flags().StringVarP(&opts.password, "password", "p", "", "Jenkins password or API token")
	cmd.Flags().BoolVar(&opts.insecureSkipVerify, "insecure-skip-verify", false,
		"Skip TLS certificate verification")

	_ = cmd.MarkFlagRequired("url")

	return cmd
}

func runProbe(ctx context.Context, log *logrus.Logger, opts probeOptions) error {
	if opts.username != "" && opts.password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Password: ")

		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)

		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}

		opts.password = string(secret)
	}

	jc := jenkins.NewClient(log, jenkins.Options{
		InsecureSkipVerify: opts.insecureSkipVerify,
		UserAgent:          "jenkdash/" + Version,
	}, nil)

	msg, err := jc.Connect(ctx, opts.url, opts.username, opts.password)
	if err != nil {
		return err
	}

	fmt.Println(msg)

	msg, err = jc.TestConnection(ctx)
	if err != nil {
		return err
	}

	fmt.Println(msg)

	info, err := jc.GetServerInfo(ctx)
	if err != nil {
		return err
	}

	plugins, _ := info.PluginCount.MarshalJSON()

	fmt.Printf("  Version:  %s\n", info.Version)
	fmt.Printf("  Node:     %s\n", info.NodeName)
	fmt.Printf("  User:     %s (%s)\n", info.UserInfo, info.UserID)
	fmt.Printf("  Plugins:  %s\n", strings.Trim(string(plugins), `"`))

	jobs, err := jc.ListJobs(ctx, "")
	if err != nil {
		return err
	}

	fmt.Printf("Jobs (%d):\n", len(jobs))

	for i, job := range jobs {
		if i == probeJobLimit {
			fmt.Printf("  ... and %d more\n", len(jobs)-probeJobLimit)

			break
		}

		fmt.Printf("  %-8s %s\n", job.Status(), job.Name)
	}

	return nil
}
