// Package constants holds command names and presentation values shared by the bot.
package constants

const (
	PingCommandName      = "ping"
	StatusCommandName    = "status"
	DebugSaveCommandName = "debug_save"
	TestCommandName      = "test"

	StatusUserOption = "user"
	TestTypeOption   = "type"
)

const (
	DefaultEmbedColor = 0x312D2B
	ErrorEmbedColor   = 0xE74C3C
)

// GenericErrorMessage is shown when a command fails for a reason the user cannot act on.
const GenericErrorMessage = "Something went wrong. Please try again later."
