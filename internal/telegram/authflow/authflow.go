// Package authflow is the interactive terminal side of the MTProto auth
// dance: phone number, login code, 2FA password, ToS acceptance and
// first-time sign-up. It implements github.com/gotd/td/telegram/auth's
// UserAuthenticator so the client pool can drive auth.NewFlow without
// knowing anything about terminals.
package authflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/chzyer/readline"
	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// Terminal implements auth.UserAuthenticator over a line-editing readline
// instance. One Terminal is built per account login; PhoneNumber is known
// ahead of time from configuration, so only the code, password, ToS and
// sign-up steps actually block on user input.
type Terminal struct {
	PhoneNumber string
	RL          *readline.Instance
}

// NewTerminal builds a Terminal prompting on the process's own stdin/stdout.
func NewTerminal(phoneNumber string) (Terminal, error) {
	rl, err := readline.New("")
	if err != nil {
		return Terminal{}, errors.Wrap(err, "authflow: open readline")
	}
	return Terminal{PhoneNumber: phoneNumber, RL: rl}, nil
}

// Close releases the underlying readline instance's terminal state.
func (t Terminal) Close() error {
	if t.RL == nil {
		return nil
	}
	return t.RL.Close()
}

var _ auth.UserAuthenticator = Terminal{}

func (t Terminal) Phone(_ context.Context) (string, error) {
	return t.PhoneNumber, nil
}

func (t Terminal) readLine(prompt string) (string, error) {
	t.RL.SetPrompt(prompt)
	line, err := t.RL.Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (t Terminal) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return t.readLine(fmt.Sprintf("Enter the login code sent to %s: ", t.PhoneNumber))
}

func (t Terminal) Password(_ context.Context) (string, error) {
	passwordBytes, err := t.RL.ReadPassword("Enter 2FA password: ")
	if err != nil {
		return "", err
	}
	return string(passwordBytes), nil
}

func (t Terminal) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	fmt.Fprintf(t.RL.Stdout(), "Telegram Terms of Service:\n%s\n", tos.Text)
	resp, err := t.readLine("Accept? (y/n): ")
	if err != nil {
		return err
	}
	if resp != "y" && resp != "Y" {
		return errors.New("authflow: terms of service not accepted")
	}
	return nil
}

func (t Terminal) SignUp(_ context.Context) (auth.UserInfo, error) {
	firstName, err := t.readLine("New account, first name: ")
	if err != nil {
		return auth.UserInfo{}, err
	}
	lastName, _ := t.readLine("Last name (optional): ")
	return auth.UserInfo{FirstName: firstName, LastName: lastName}, nil
}
