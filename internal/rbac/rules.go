package rbac

const (
	PermImport  = "course:import"
	PermView    = "import:view"
	PermList    = "import:list"
	PermViewAll = "import:view-all"
)

// Default policy. Authors submit packages; viewers only read progress.
var RolePermissions = map[string][]string{
	"author": {
		PermImport,
		PermView,
		PermList,
	},
	"viewer": {
		PermView,
		PermList,
	},
	"admin": {
		"*", // everything
	},
}
