package main

import (
	"fmt"
	"os"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"golang.org/x/term"
)

// readPassword reads the server password from the terminal with echo
// disabled.
func readPassword(username string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--ask-password needs a terminal (set KEPSYNC_PASSWORD instead)")
	}

	if username != "" {
		fmt.Fprintf(os.Stderr, "Password for %s: ", username)
	} else {
		fmt.Fprint(os.Stderr, "Password: ")
	}
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

var confirmSuggestions = []prompt.Suggest{
	{Text: "yes", Description: "apply the changes"},
	{Text: "no", Description: "abort without writing"},
}

func confirmCompleter(d prompt.Document) []prompt.Suggest {
	return prompt.FilterHasPrefix(confirmSuggestions, d.GetWordBeforeCursor(), true)
}

// confirm asks a yes/no question. Anything other than "y" or "yes" is a
// no. Without a terminal it refuses instead of blocking.
func confirm(question string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("--confirm needs a terminal")
	}

	answer := prompt.Input(question+" [yes/no] ", confirmCompleter,
		prompt.OptionTitle("kepsync"),
		prompt.OptionShowCompletionAtStart(),
	)
	return isYes(answer), nil
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
