package bot

import "github.com/bwmarrin/discordgo"

var manageChannels = int64(discordgo.PermissionManageChannels)

func channelOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionChannel,
		Name:        "channel",
		Description: "Limit to one channel",
		DescriptionLocalizations: map[discordgo.Locale]string{
			discordgo.French:    "Limiter a un salon",
			discordgo.EnglishUS: "Limit to one channel",
			discordgo.SpanishES: "Limitar a un canal",
		},
		ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews},
	}
}

func reasonOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "reason",
		Description: "Reason recorded in the audit log",
		DescriptionLocalizations: map[discordgo.Locale]string{
			discordgo.French:    "Raison enregistree dans le journal",
			discordgo.EnglishUS: "Reason recorded in the audit log",
			discordgo.SpanishES: "Motivo registrado en el registro",
		},
	}
}

func applicationCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "lockdown",
			Description: "Lock text channels",
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French:    "Verrouiller les salons textuels",
				discordgo.EnglishUS: "Lock text channels",
				discordgo.SpanishES: "Bloquear canales de texto",
			},
			DefaultMemberPermissions: &manageChannels,
			Options:                  []*discordgo.ApplicationCommandOption{channelOption(), reasonOption()},
		},
		{
			Name:        "unlock",
			Description: "Restore locked channels",
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French:    "Restaurer les salons verrouilles",
				discordgo.EnglishUS: "Restore locked channels",
				discordgo.SpanishES: "Restaurar canales bloqueados",
			},
			DefaultMemberPermissions: &manageChannels,
			Options:                  []*discordgo.ApplicationCommandOption{channelOption(), reasonOption()},
		},
		{
			Name:        "raid",
			Description: "Show raid and lockdown status",
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French:    "Afficher l'etat du raid et du confinement",
				discordgo.EnglishUS: "Show raid and lockdown status",
				discordgo.SpanishES: "Mostrar estado de raid y bloqueo",
			},
			DefaultMemberPermissions: &manageChannels,
		},
	}
}

// registerCommands syncs global commands by name and drops stale global and
// guild commands left by earlier versions.
func (b *Bot) registerCommands() error {
	commands := applicationCommands()
	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}

	for _, guild := range b.session.State.Guilds {
		if guild == nil {
			continue
		}
		guildCmds, err := b.session.ApplicationCommands(appID, guild.ID)
		if err != nil {
			continue
		}
		for _, cmd := range guildCmds {
			if _, ok := desired[cmd.Name]; ok {
				continue
			}
			_ = b.session.ApplicationCommandDelete(appID, guild.ID, cmd.ID)
		}
	}
	return nil
}
