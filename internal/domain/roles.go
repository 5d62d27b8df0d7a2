package domain

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleStaff    Role = "staff"
	RoleCustomer Role = "customer"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleStaff, RoleCustomer:
		return true
	}
	return false
}

type Permission string

const (
	PermBranchCreate    Permission = "branch:create"
	PermInventoryAdjust Permission = "inventory:adjust"
	PermApprovalResolve Permission = "approval:resolve"
	PermOrderCreate     Permission = "order:create"
	PermOrderClaim      Permission = "order:claim"
	PermOrderStatus     Permission = "order:status"
	PermSupplierManage  Permission = "supplier:manage"
	PermReportView      Permission = "report:view"
)

var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermBranchCreate, PermInventoryAdjust, PermApprovalResolve, PermOrderCreate,
		PermOrderClaim, PermOrderStatus, PermSupplierManage, PermReportView,
	},
	RoleManager: {
		PermInventoryAdjust, PermApprovalResolve, PermOrderCreate, PermOrderClaim,
		PermOrderStatus, PermSupplierManage, PermReportView,
	},
	RoleStaff:    {PermInventoryAdjust, PermOrderCreate, PermOrderClaim, PermOrderStatus},
	RoleCustomer: {PermOrderCreate},
}

// Actor identifies who performs an operation. It is passed explicitly into
// every service call.
type Actor struct {
	ID       string `json:"id"`
	Role     Role   `json:"role"`
	BranchID string `json:"branch_id,omitempty"`
}

func (a Actor) Can(p Permission) bool {
	if a.ID == "" {
		return false
	}
	for _, granted := range rolePermissions[a.Role] {
		if granted == p {
			return true
		}
	}
	return false
}

// SystemActor is recorded on audit entries written outside a user request.
var SystemActor = Actor{ID: "system", Role: RoleAdmin}
