package authz

const (
	RoleEmployee    = "employee"
	RoleContractor  = "contractor"
	RoleHRAdmin     = "hr-admin"
	RoleTenantAdmin = "tenant-admin"
	RoleAnonymous   = "anonymous"
)

const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionSubmit = "submit"
	ActionAdmin  = "admin"
)

// DomainAny matches every tenant in policy lines.
const DomainAny = "*"

const (
	ObjectKYCFlows          = "kyc.flows"
	ObjectKYCRecords        = "kyc.records"
	ObjectTaxDeclarations   = "tax.declarations"
	ObjectTaxSummary        = "tax.summary"
	ObjectTaxCatalog        = "tax.catalog"
	ObjectPayrollStructures = "payroll.salary-structures"
)

func KnownObject(object string) bool {
	switch object {
	case ObjectKYCFlows, ObjectKYCRecords, ObjectTaxDeclarations, ObjectTaxSummary, ObjectTaxCatalog, ObjectPayrollStructures:
		return true
	}
	return false
}

func KnownAction(action string) bool {
	switch action {
	case ActionRead, ActionWrite, ActionSubmit, ActionAdmin:
		return true
	}
	return false
}
