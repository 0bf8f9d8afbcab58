package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/mbmove/mbmove/internal/api"
)

// newClient builds an API client for one side of the migration, prompting for
// a password on the terminal when a username was given without one.
func newClient(side, url, username, password, sessionToken, apiKey string) (*api.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("missing --%s-url", side)
	}
	if username != "" && password == "" && sessionToken == "" && apiKey == "" {
		var err error
		password, err = promptPassword(fmt.Sprintf("Password for %s on %s: ", username, url))
		if err != nil {
			return nil, err
		}
	}
	return api.New(url, api.Credentials{
		Username:      username,
		Password:      password,
		SessionToken:  sessionToken,
		PersonalToken: apiKey,
	}, logger)
}

func promptPassword(prompt string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("no password given and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
