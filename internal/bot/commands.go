package bot

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/robalyx/chatrank/internal/bot/constants"
	"github.com/robalyx/chatrank/internal/schedule"
)

// Commands returns the slash commands to register.
// Operator commands are only included in development.
func Commands(development bool) []discord.ApplicationCommandCreate {
	commands := []discord.ApplicationCommandCreate{
		discord.SlashCommandCreate{
			Name:        constants.PingCommandName,
			Description: "Show the gateway latency",
		},
		discord.SlashCommandCreate{
			Name:        constants.StatusCommandName,
			Description: "Show this month's message count",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionUser{
					Name:        constants.StatusUserOption,
					Description: "Member to look up",
					Required:    false,
				},
			},
		},
	}

	if !development {
		return commands
	}

	return append(commands,
		discord.SlashCommandCreate{
			Name:        constants.DebugSaveCommandName,
			Description: "Flush pending message counts now",
		},
		discord.SlashCommandCreate{
			Name:        constants.TestCommandName,
			Description: "Run a scheduled task now",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        constants.TestTypeOption,
					Description: "Task to run",
					Required:    true,
					Choices: []discord.ApplicationCommandOptionChoiceString{
						{Name: "daily", Value: string(schedule.TaskDaily)},
						{Name: "monthly", Value: string(schedule.TaskMonthly)},
					},
				},
			},
		},
	)
}
