// Command merkletoxd is a thin demonstration harness around the
// merkle-tox core package: it establishes a two-device 1-on-1 conversation
// over an in-memory VirtualHub and drives a few messages through the
// engine, printing the resulting DAG as it grows. It is not a production
// node -- no real socket, persistence, or peer discovery is wired up here.
package main

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"merkletox/core"
	"merkletox/pkg/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "merkletoxd",
		Short: "merkle-tox demonstration node",
	}
	root.AddCommand(newDemoCmd())
	root.AddCommand(newConfigCmd())
	return root
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v (using defaults)\n", err)
				cfg = &config.Config{}
			}
			fmt.Printf("%+v\n", cfg.Merkletox)
			return nil
		},
	}
}

func newDemoCmd() *cobra.Command {
	var dotOut string
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "author a small one-on-one conversation and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(dotOut)
		},
	}
	cmd.Flags().StringVar(&dotOut, "dot", "", "path to write a Graphviz DOT export of the resulting DAG")
	return cmd
}

func runDemo(dotOut string) error {
	logger := logrus.StandardLogger()
	logger.SetLevel(logrus.InfoLevel)

	alicePub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		return err
	}
	bobPub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		return err
	}
	var aliceID, bobID core.LogicalIdentityPk
	copy(aliceID[:], alicePub)
	copy(bobID[:], bobPub)

	var aliceDevice core.PhysicalDevicePk
	copy(aliceDevice[:], alicePub)

	cid := core.NewOneOnOneConversationId(aliceID, bobID)
	store := core.NewMemoryStore()
	engine := core.NewEngine(core.EngineConfig{Store: store, Logger: logger})

	now := time.Now().UnixMilli()
	kConv := make([]byte, 32)
	genesis := core.BuildOneOnOneGenesis(aliceID, aliceDevice, kConv, now)

	h, effects := engine.AuthorNode(cid, genesis, now)
	logger.Infof("authored genesis node %x with %d effects", h[:8], len(effects))

	runtime := core.NewRuntime(engine, store, nil, nil, 0, logger)
	if err := runtime.Apply(effects); err != nil {
		return err
	}

	if dotOut != "" {
		dot := core.ExportDot(cid, store, core.DotOptions{ShowSpeculative: true, HighlightHeads: true})
		if err := os.WriteFile(dotOut, []byte(dot), 0o644); err != nil {
			return err
		}
		logger.Infof("wrote DAG visualization to %s", dotOut)
	}
	return nil
}
