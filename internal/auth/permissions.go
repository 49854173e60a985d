package auth

const (
	PermDocumentsRead    = "documents.read"
	PermDocumentsWrite   = "documents.write"
	PermAssessmentsRead  = "assessments.read"
	PermAssessmentsWrite = "assessments.write"
	PermAccountsManage   = "accounts.manage"
	PermSessionsManage   = "sessions.manage"
)

// rolePermissions maps each role to its capability snapshot. The slices are
// kept sorted so issued tokens are byte-stable for a given role.
var rolePermissions = map[Role][]string{
	RoleAdmin: {
		PermAccountsManage,
		PermAssessmentsRead,
		PermAssessmentsWrite,
		PermDocumentsRead,
		PermDocumentsWrite,
		PermSessionsManage,
	},
	RoleUser: {
		PermAssessmentsRead,
		PermAssessmentsWrite,
		PermDocumentsRead,
		PermDocumentsWrite,
	},
	RoleViewer: {
		PermAssessmentsRead,
		PermDocumentsRead,
	},
}

// RolePermissions returns the permission snapshot for a role. The returned
// slice is a copy; callers may not mutate the catalog.
func RolePermissions(role Role) []string {
	perms, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}
