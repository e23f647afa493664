package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker gates session control behind operator roles.
type PermissionChecker struct {
	roles []string
}

// NewPermissionChecker accepts members holding any of roleIDs. Empty IDs are
// skipped; with none left every member is an operator.
func NewPermissionChecker(roleIDs ...string) *PermissionChecker {
	var roles []string
	for _, id := range roleIDs {
		if id != "" {
			roles = append(roles, id)
		}
	}
	return &PermissionChecker{roles: roles}
}

// IsOperator reports whether the author of i may connect or disconnect.
// Direct messages carry no member and are refused once roles are set.
func (p *PermissionChecker) IsOperator(i *discordgo.InteractionCreate) bool {
	if len(p.roles) == 0 {
		return true
	}
	if i.Member == nil {
		return false
	}
	return slices.ContainsFunc(i.Member.Roles, func(r string) bool {
		return slices.Contains(p.roles, r)
	})
}
