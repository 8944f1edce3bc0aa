package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/ijonas/omikuji/internal/logger"
)

// Prompter reads interactive input for the key commands. PasswordPrompt
// never echoes what the user types.
type Prompter interface {
	Prompt(string) string
	PasswordPrompt(string) string
	IsTerminal() bool
}

type terminalPrompter struct{}

func NewTerminalPrompter() Prompter {
	return terminalPrompter{}
}

func (tp terminalPrompter) Prompt(prompt string) string {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print(prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		logger.Fatal(err)
	}
	return strings.TrimSpace(line)
}

func (tp terminalPrompter) PasswordPrompt(prompt string) string {
	var rval string
	withTerminalResetter(func() {
		fmt.Print(prompt)
		byteKey, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			logger.Fatal(err)
		}
		clearLine()
		rval = string(byteKey)
	})
	return strings.TrimSpace(rval)
}

func (tp terminalPrompter) IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// withTerminalResetter restores terminal echo if the user interrupts a
// hidden prompt, so the shell is not left in no-echo mode.
func withTerminalResetter(f func()) {
	osSafeStdin := int(os.Stdin.Fd())

	initialTermState, err := term.GetState(osSafeStdin)
	if err != nil {
		logger.Fatal(err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		err := term.Restore(osSafeStdin, initialTermState)
		logger.ErrorIf(err, "failed to restore terminal state")
		os.Exit(1)
	}()

	f()
	signal.Stop(c)
}

func clearLine() {
	fmt.Printf("\r" + strings.Repeat(" ", 60) + "\r")
}
