package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionQuizzesRead allows viewing quiz lists and details.
	PermissionQuizzesRead Permission = "quizzes:read"

	// PermissionQuizzesWrite allows registering and updating quizzes.
	PermissionQuizzesWrite Permission = "quizzes:write"

	// PermissionSebSettingsRead allows viewing SEB settings of a quiz.
	PermissionSebSettingsRead Permission = "seb:settings_read"

	// PermissionSebSettingsWrite allows editing and deleting SEB settings,
	// including uploading .seb configuration files.
	PermissionSebSettingsWrite Permission = "seb:settings_write"

	// PermissionSebTemplatesRead allows viewing SEB templates.
	PermissionSebTemplatesRead Permission = "seb:templates_read"

	// PermissionSebTemplatesWrite allows creating, updating, and deleting SEB templates.
	PermissionSebTemplatesWrite Permission = "seb:templates_write"

	// PermissionSebBypass exempts the holder from all SEB access checks.
	PermissionSebBypass Permission = "seb:bypass"

	// PermissionSebMonitor allows streaming SEB denial events.
	PermissionSebMonitor Permission = "seb:monitor"
)

// AllPermissions is a slice of all available permissions.
var AllPermissions = []Permission{
	PermissionQuizzesRead,
	PermissionQuizzesWrite,
	PermissionSebSettingsRead,
	PermissionSebSettingsWrite,
	PermissionSebTemplatesRead,
	PermissionSebTemplatesWrite,
	PermissionSebBypass,
	PermissionSebMonitor,
}
