package automod

import "fmt"

var warningText = map[Type]string{
	TypeBadWord:     "Your message was removed because it contained a blocked word.",
	TypeSpam:        "You are sending messages too quickly. Please slow down.",
	TypeLinkSpam:    "Your message was removed because it contained too many links.",
	TypeMassMention: "Your message was removed because it mentioned too many users.",
	TypeInviteLink:  "Invite links to other servers are not allowed here.",
	TypeCaps:        "Please avoid writing in all capital letters.",
	TypeDuplicate:   "Please do not repeat the same message.",
	TypeEmojiSpam:   "Your message was removed because it contained too many emoji.",
	TypeNewlineSpam: "Your message was removed because it contained too many line breaks.",
}

func warningMessage(v Violation) string {
	if text, ok := warningText[v.Type]; ok {
		return text
	}
	return fmt.Sprintf("Your message was removed: %s.", v.Details)
}

func channelNotice(userID string, v Violation) string {
	return fmt.Sprintf("<@%s> %s", userID, warningMessage(v))
}

func caseReason(v Violation) string {
	return fmt.Sprintf("[automod] %s: %s", v.Type, v.Details)
}
