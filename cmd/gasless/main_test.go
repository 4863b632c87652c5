package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/0gfoundation/0g-gasless/internal/executor"
)

func TestRootCommands(t *testing.T) {
	root := newRootCommand()
	want := []string{"address", "register", "authorize", "delegate", "transfer",
		"status", "price", "balance", "contracts", "mint", "whitelist"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not found", name)
		}
	}
}

func TestEmitFailedResult(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	err := emit(cmd, executor.Result{Err: errors.New("relay rejected: nope")})
	if err == nil || err.Error() != "relay rejected: nope" {
		t.Errorf("err = %v", err)
	}
	if !strings.Contains(out.String(), `"success": false`) {
		t.Errorf("output = %s", out.String())
	}

	out.Reset()
	if err := emit(cmd, executor.Result{Success: true, TxHash: "0x1"}); err != nil {
		t.Errorf("success emit: %v", err)
	}
	if !strings.Contains(out.String(), `"txHash": "0x1"`) {
		t.Errorf("output = %s", out.String())
	}
}

func TestMissingKey(t *testing.T) {
	t.Setenv("RELAY_URL", "http://localhost:1")
	t.Setenv("CHAIN_ID", "31337")
	t.Setenv(keyEnv, "")

	root := newRootCommand()
	root.SetArgs([]string{"address"})
	root.SetOut(&bytes.Buffer{})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), keyEnv) {
		t.Errorf("err = %v", err)
	}
}
