package enums

// MemberRole is a workspace permission role carried in the access token.
type MemberRole string

const (
	MemberRoleOwner     MemberRole = "owner"
	MemberRoleAdmin     MemberRole = "admin"
	MemberRolePublisher MemberRole = "publisher"
	MemberRoleCreator   MemberRole = "creator"
	MemberRoleViewer    MemberRole = "viewer"
)

var memberRoles = closed[MemberRole]{MemberRoleOwner, MemberRoleAdmin, MemberRolePublisher, MemberRoleCreator, MemberRoleViewer}

func (m MemberRole) IsValid() bool { return memberRoles.has(m) }

func ParseMemberRole(value string) (MemberRole, error) {
	return memberRoles.parse("member role", value)
}
