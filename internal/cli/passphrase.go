package cli

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const passphraseEnv = "PCTRL_PASSPHRASE"

var (
	isTerminalFn = func(r io.Reader) bool {
		f, ok := r.(*os.File)
		return ok && term.IsTerminal(int(f.Fd()))
	}
	readPasswordFn = func(r io.Reader) ([]byte, error) {
		f, ok := r.(*os.File)
		if !ok {
			return nil, errors.New("stdin is not a terminal")
		}
		return term.ReadPassword(int(f.Fd()))
	}
)

// readPassphrase takes the store passphrase from the first line of stdin when
// --passphrase-stdin is set, then from PCTRL_PASSPHRASE, then from an
// interactive prompt. confirm asks twice on the prompt path.
func readPassphrase(cmd *cobra.Command, deps commandDeps, confirm bool) ([]byte, error) {
	in := cmd.InOrStdin()
	if deps.globals.PassphraseStdin {
		return readPassphraseFromStdin(in)
	}
	if deps.getenv != nil {
		if value := deps.getenv(passphraseEnv); value != "" {
			return []byte(value), nil
		}
	}
	if !isTerminalFn(in) {
		return nil, usageErrorf("a passphrase is required: pass --passphrase-stdin or set %s", passphraseEnv)
	}

	first, err := promptPassphrase(in, deps.errOut, "Passphrase: ")
	if err != nil {
		return nil, err
	}
	if !confirm {
		return first, nil
	}
	second, err := promptPassphrase(in, deps.errOut, "Confirm passphrase: ")
	if err != nil {
		memguard.WipeBytes(first)
		return nil, err
	}
	defer memguard.WipeBytes(second)
	if !bytes.Equal(first, second) {
		memguard.WipeBytes(first)
		return nil, usageErrorf("passphrases do not match")
	}
	return first, nil
}

func promptPassphrase(in io.Reader, prompt io.Writer, label string) ([]byte, error) {
	if prompt == nil {
		prompt = io.Discard
	}
	if _, err := fmt.Fprint(prompt, label); err != nil {
		return nil, err
	}
	value, err := readPasswordFn(in)
	_, _ = fmt.Fprintln(prompt)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	if len(bytes.TrimSpace(value)) == 0 {
		memguard.WipeBytes(value)
		return nil, usageErrorf("passphrase must not be empty")
	}
	return value, nil
}

func readPassphraseFromStdin(r io.Reader) ([]byte, error) {
	reader := bufio.NewReader(r)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, mapCommandError(fmt.Errorf("read passphrase from stdin: %w", err))
	}
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, usageErrorf("--passphrase-stdin requires a non-empty value on stdin")
	}
	return []byte(line), nil
}
