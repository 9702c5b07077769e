package server

import (
	"errors"
	"fmt"

	"fileexchange/internal/command"
	"fileexchange/internal/conn"
	"fileexchange/internal/store"
	"fileexchange/internal/transfer"
)

var (
	ErrMissingArgument = errors.New("missing argument")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrNotRegistered   = errors.New("not registered")
	ErrAliasTaken      = errors.New("alias taken")
	ErrAliasNotFound   = errors.New("alias not found")
	ErrServerFull      = errors.New("server full")
	ErrTransport       = errors.New("transport error")

	// errSessionEnded stops the command loop after /leave.
	errSessionEnded = errors.New("session ended")
)

type argError struct {
	verb command.Verb
}

func (e argError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingArgument, command.Usage(e.verb))
}

func (e argError) Unwrap() error {
	return ErrMissingArgument
}

func missingArgument(v command.Verb) error {
	return argError{verb: v}
}

// fatal reports whether err leaves the session's stream unusable.
func fatal(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, transfer.ErrTruncatedTransfer) ||
		errors.Is(err, transfer.ErrBadPreamble) ||
		errors.Is(err, conn.ErrLineTooLong)
}

// userMessage is the line a client sees for a recoverable error.
func userMessage(err error) string {
	var ae argError
	switch {
	case errors.As(err, &ae):
		if ae.verb == command.VerbRegister {
			return "No inputted nickname. Please provide one."
		}
		return "Missing argument. Usage: " + command.Usage(ae.verb)
	case errors.Is(err, ErrUnknownCommand):
		return `Improper input. Please type "/?" For a format of how to request from the server.`
	case errors.Is(err, ErrNotRegistered):
		return "Cannot process the command. Please register first."
	case errors.Is(err, ErrAliasTaken):
		return "Nickname already exists. Please use a different one."
	case errors.Is(err, ErrAliasNotFound):
		return "Sorry, inputted user alias does not exist. Try again."
	case errors.Is(err, transfer.ErrFileNotFound), errors.Is(err, store.ErrNotFound):
		return "Server: Sorry, file not found!"
	case errors.Is(err, store.ErrInvalidFilename):
		return "Server: Invalid filename. Names may not contain path separators or refer to parent directories."
	default:
		return "Server: " + err.Error()
	}
}
