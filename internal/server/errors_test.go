package server

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"fileexchange/internal/command"
	"fileexchange/internal/conn"
	"fileexchange/internal/store"
	"fileexchange/internal/transfer"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{missingArgument(command.VerbRegister), "No inputted nickname. Please provide one."},
		{missingArgument(command.VerbGet), "Missing argument. Usage: /get <filename>"},
		{ErrUnknownCommand, `Improper input. Please type "/?" For a format of how to request from the server.`},
		{ErrNotRegistered, "Cannot process the command. Please register first."},
		{ErrAliasTaken, "Nickname already exists. Please use a different one."},
		{ErrAliasNotFound, "Sorry, inputted user alias does not exist. Try again."},
		{fmt.Errorf("open: %w", transfer.ErrFileNotFound), "Server: Sorry, file not found!"},
		{errors.New("disk on fire"), "Server: disk on fire"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, userMessage(tt.err))
		})
	}

	assert.Contains(t, userMessage(store.ErrInvalidFilename), "Invalid filename")
}

func TestMissingArgumentUnwraps(t *testing.T) {
	err := missingArgument(command.VerbChat)
	assert.ErrorIs(t, err, ErrMissingArgument)
	assert.Contains(t, err.Error(), "/chat <message>")
}

func TestFatal(t *testing.T) {
	assert.True(t, fatal(fmt.Errorf("%w: %w", ErrTransport, io.EOF)))
	assert.True(t, fatal(transfer.ErrTruncatedTransfer))
	assert.True(t, fatal(fmt.Errorf("size: %w", transfer.ErrBadPreamble)))
	assert.True(t, fatal(conn.ErrLineTooLong))

	assert.False(t, fatal(ErrAliasTaken))
	assert.False(t, fatal(store.ErrInvalidFilename))
	assert.False(t, fatal(missingArgument(command.VerbStore)))
}
