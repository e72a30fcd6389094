package rbac

// Role constants
const (
	RoleOwner  = "owner"
	RoleTrader = "trader"
)

// Permission constants
const (
	PermTrade            = "trade"
	PermManageSettings   = "manage_settings"
	PermManageCurrencies = "manage_currencies"
	PermDevLedger        = "dev_ledger"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleOwner: {
		PermTrade, PermManageSettings, PermManageCurrencies, PermDevLedger,
	},
	RoleTrader: {
		PermTrade, PermDevLedger,
		// Trader CANNOT: PermManageSettings, PermManageCurrencies
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsAdminOperation reports whether permission is reserved for the engine owner.
func IsAdminOperation(permission string) bool {
	return permission == PermManageSettings || permission == PermManageCurrencies
}
