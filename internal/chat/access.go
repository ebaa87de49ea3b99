package chat

import (
	"spacechat/internal/domain/conversation"
	chat_errors "spacechat/pkg/errors"
)

// Action names the participant operations subject to permission checks.
type Action string

const (
	ActionSendMessage  Action = "send_message"
	ActionReact        Action = "react"
	ActionUploadFile   Action = "upload_file"
	ActionAddMember    Action = "add_member"
	ActionEditSettings Action = "edit_settings"
	ActionRemoveMember Action = "remove_member"
	ActionBanMember    Action = "ban_member"
)

// Can gates an action on the participant's status, role and permission
// flags. An inactive, muted or banned participant is denied everything but
// read. Moderation actions additionally require role authority.
func Can(p conversation.Participant, action Action) error {
	if !p.IsActive() {
		return chat_errors.ErrForbidden
	}

	switch action {
	case ActionSendMessage, ActionReact:
		if p.CanSendMessages {
			return nil
		}
	case ActionUploadFile:
		if p.CanUploadFiles {
			return nil
		}
	case ActionAddMember:
		if p.CanAddMembers || isAdmin(p.Role) {
			return nil
		}
	case ActionEditSettings:
		if p.CanEditSettings || isAdmin(p.Role) {
			return nil
		}
	case ActionRemoveMember:
		if isModerator(p.Role) {
			return nil
		}
	case ActionBanMember:
		if isAdmin(p.Role) {
			return nil
		}
	}
	return chat_errors.ErrForbidden
}

// CanModerate additionally requires the actor to outrank the target.
func CanModerate(actor, target conversation.Participant, action Action) error {
	if err := Can(actor, action); err != nil {
		return err
	}
	if !conversation.Outranks(actor.Role, target.Role) {
		return chat_errors.ErrForbidden
	}
	return nil
}

func isAdmin(role string) bool {
	return role == conversation.RoleOwner || role == conversation.RoleAdmin
}

func isModerator(role string) bool {
	return isAdmin(role) || role == conversation.RoleModerator
}
